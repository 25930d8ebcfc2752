package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/crashcorpus/internal/directive"
)

const reducedIR = `; ModuleID = 'reduced.bc'
source_filename = "reduced.ll"

; Function Attrs: nounwind
define void @f() {
  ret void
}
`

func TestApply(t *testing.T) {
	header := []string{"; RUN: opt -gvn -S < %s\n", "; REQUIRES: asserts\n"}
	got := Apply(header, reducedIR)
	want := "; RUN: opt -gvn -S < %s\n; REQUIRES: asserts\n\ndefine void @f() {\n  ret void\n}\n"
	if got != want {
		t.Errorf("Apply() =\n%s\nwant:\n%s", got, want)
	}
}

func TestApplyIdempotent(t *testing.T) {
	header := []string{"; RUN: opt -gvn -S < %s\n", "; CHECK: ret\n"}
	once := Apply(header, reducedIR)
	twice := Apply(header, once)
	if once != twice {
		t.Errorf("Apply is not idempotent:\n%s\n---\n%s", once, twice)
	}
}

func TestIsBookkeeping(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"source_filename = \"a.c\"", true},
		{"; ModuleID = 'a.c'", true},
		{"; Function Attrs: noinline", true},
		{"; RUN: opt %s", false},
		{"  source_filename", false},
		{"define void @source_filename()", false},
	}
	for _, tt := range tests {
		if got := IsBookkeeping(tt.line); got != tt.want {
			t.Errorf("IsBookkeeping(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestRewriteFromKeepsTestRunnable(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "orig.ll")
	candidate := filepath.Join(dir, "candidate.ll")
	os.WriteFile(original, []byte("; RUN: opt -dse -S < %s\n; XFAIL: *\ndefine i32 @g() {\n  ret i32 0\n}\n"), 0644)
	os.WriteFile(candidate, []byte(reducedIR), 0644)

	if err := RewriteFrom(original, candidate); err != nil {
		t.Fatalf("RewriteFrom failed: %v", err)
	}

	d, err := directive.Extract(candidate)
	if err != nil {
		t.Fatalf("normalized candidate has no directive: %v", err)
	}
	if d.String() != "opt -dse -S < %s" {
		t.Errorf("directive = %q", d.String())
	}
}
