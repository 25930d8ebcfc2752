package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/kballard/go-shellquote"
)

// Ref is the shell text substituted for the placeholder in a predicate.
type Ref string

// ArgRef binds the placeholder to the candidate path passed by the tool.
const ArgRef Ref = `"$1"`

// Literal binds the placeholder to a fixed file name.
func Literal(name string) Ref {
	return Ref(shellquote.Join(name))
}

// Polarity maps the directive's exit status to the reducer's convention:
// a predicate exits 0 for "interesting".
type Polarity struct {
	// CrashCode, when non-zero, is the only interesting exit code. Otherwise
	// every non-zero exit is interesting.
	CrashCode int
}

// AnyFailure treats every non-zero exit as interesting.
var AnyFailure = Polarity{}

// PredicateScript renders an interestingness script that reruns d the way
// RunDirective would, ASLR wrapper and PATH included.
func (t *Toolchain) PredicateScript(d *directive.Directive, ref Ref, p Polarity) (string, error) {
	bin, err := t.Resolve(d.Name)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(d.Args)+6)
	if t.disableASLR {
		parts = append(parts, "setarch", `"$(uname -m)"`, "-R")
	}
	parts = append(parts, shellquote.Join(bin))
	for _, a := range d.Args {
		parts = append(parts, bindArg(a, ref))
	}
	if d.Stdin != "" {
		parts = append(parts, "<", bindArg(d.Stdin, ref))
	}
	parts = append(parts, d.Redirections(func(target string) string {
		return bindArg(target, ref)
	})...)
	line := strings.Join(parts, " ")

	var b strings.Builder
	// The interpreter line is required; llvm-reduce rejects scripts
	// without one.
	b.WriteString("#!/bin/bash\n\n")
	fmt.Fprintf(&b, "export PATH=%s:\"$PATH\"\n", shellquote.Join(t.build.BinDir()))
	if p.CrashCode == 0 {
		b.WriteString(line + " && exit 1 || exit 0\n")
	} else {
		b.WriteString(line + "\n")
		fmt.Fprintf(&b, "if [ $? -eq %d ]; then\n  exit 0\nfi\nexit 1\n", p.CrashCode)
	}
	return b.String(), nil
}

// WritePredicate writes the script into dir as an executable file and
// returns its path.
func (t *Toolchain) WritePredicate(dir string, d *directive.Directive, ref Ref, p Polarity) (string, error) {
	script, err := t.PredicateScript(d, ref, p)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "interestingness.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return "", fmt.Errorf("write predicate: %w", err)
	}
	return path, nil
}

// bindArg quotes arg for the shell with each placeholder replaced by ref.
func bindArg(arg string, ref Ref) string {
	pieces := strings.Split(arg, directive.Placeholder)
	var b strings.Builder
	for i, piece := range pieces {
		if i > 0 {
			b.WriteString(string(ref))
		}
		if piece != "" {
			b.WriteString(shellquote.Join(piece))
		}
	}
	if b.Len() == 0 {
		return "''"
	}
	return b.String()
}
