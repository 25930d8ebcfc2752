package reduce

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fentz26/crashcorpus/internal/connectors"
	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const irBody = "define void @f() {\n  ret void\n}\n"

func TestLLVMReduceAddsNormalizedCandidate(t *testing.T) {
	f := newFixture(t, map[string]tool{
		"opt": nil,
		"llvm-reduce": func(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
			require.True(t, strings.HasPrefix(cmd.Args[0], "-test="))
			script := strings.TrimPrefix(cmd.Args[0], "-test=")
			require.Contains(t, readFile(t, script), `"$1"`)
			reduced := "; ModuleID = 'reduced'\nsource_filename = \"t.ll\"\n" +
				"; Function Attrs: nounwind\ndefine void @g() {\n  ret void\n}\n"
			require.NoError(t, os.WriteFile(filepath.Join(cmd.Dir, "reduced.ll"), []byte(reduced), 0644))
			return clean()
		},
	})
	tc, d := f.addTest(t, "t.ll", "; RUN: opt -gvn -S < %s\n; REQUIRES: asserts\n"+irBody)

	added, err := LLVMReduce{}.Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Len(t, added, 1)

	want := "; RUN: opt -gvn -S < %s\n; REQUIRES: asserts\ndefine void @g() {\n  ret void\n}\n"
	require.Equal(t, want, readFile(t, added[0]))

	records := f.records(t)
	require.Len(t, records, 1)
	require.Equal(t, "llvm-reduce-crash-unconstrained", records[0].Tag)
	require.Equal(t, "t.ll", records[0].Source)
	require.Equal(t, filepath.Base(added[0]), records[0].Result)
}

func TestLLVMReduceToolFailureIsNotFatal(t *testing.T) {
	for name, outcome := range map[string]*connectors.Outcome{
		"failure": {ExitCode: 1},
		"timeout": {ExitCode: -1, TimedOut: true},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, map[string]tool{
				"opt": nil,
				"llvm-reduce": func(*testing.T, *connectors.Command) *connectors.Outcome {
					return outcome
				},
			})
			tc, d := f.addTest(t, "t.ll", "; RUN: opt -gvn %s\n"+irBody)

			added, err := LLVMReduce{}.Reduce(context.Background(), f.env, tc, d)
			require.NoError(t, err)
			require.Empty(t, added)
			require.Empty(t, f.records(t))
		})
	}
}

func TestLLVMReduceUnresolvableIsFatal(t *testing.T) {
	f := newFixture(t, map[string]tool{"opt": nil})
	tc, d := f.addTest(t, "t.ll", "; RUN: opt -gvn %s\n"+irBody)
	d = d.WithName("definitely-not-installed-anywhere")

	_, err := LLVMReduce{}.Reduce(context.Background(), f.env, tc, d)
	require.True(t, errors.Is(err, toolchain.ErrUnresolvable), "err = %v", err)
}

func TestBugpointArgs(t *testing.T) {
	d, err := directive.Parse("opt -instcombine -S < %s")
	require.NoError(t, err)
	got := Bugpoint{}.Args(d, "/c/t.ll")
	if diff := cmp.Diff([]string{"-instcombine", "/c/t.ll", "--safe-run-llc"}, got); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
}

func TestBugpointReprintsReducedBitcode(t *testing.T) {
	f := newFixture(t, map[string]tool{
		"opt": printer,
		"bugpoint": func(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
			require.Equal(t, "--safe-run-llc", cmd.Args[len(cmd.Args)-1])
			out := filepath.Join(cmd.Dir, "bugpoint-reduced-simplified.bc")
			require.NoError(t, os.WriteFile(out, []byte("define void @h() {\n  ret void\n}\n"), 0644))
			return clean()
		},
	})
	tc, d := f.addTest(t, "t.ll", "; RUN: opt -instcombine -S < %s\n"+irBody)

	added, err := Bugpoint{}.Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Len(t, added, 1)
	require.Equal(t, "; RUN: opt -instcombine -S < %s\ndefine void @h() {\n  ret void\n}\n", readFile(t, added[0]))
	require.Len(t, f.conn.callsTo("opt"), 1, "bitcode must be reprinted once")
}

func TestBugpointDeclinesNonOpt(t *testing.T) {
	f := newFixture(t, map[string]tool{"llc": nil, "bugpoint": nil})
	tc, d := f.addTest(t, "t.ll", "; RUN: llc -O2 < %s\n"+irBody)

	added, err := Bugpoint{}.Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Empty(t, added)
	require.Empty(t, f.conn.callsTo("bugpoint"))
}

func TestCReduce(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		reduced  string
		wantNotC bool
		want     string
	}{
		{
			name:    "c source",
			file:    "t.c",
			content: "// RUN: clang -O2 -c %s\nint main() { return *(int *)0; }\n",
			reduced: "int main(){}\n",
			want:    "// RUN: clang -O2 -c %s\nint main(){}\n",
		},
		{
			name:     "ir is reduced as non-c",
			file:     "t.ll",
			content:  "; RUN: opt -gvn %s\n" + irBody,
			reduced:  "define void @f(){ret void}\n",
			wantNotC: true,
			want:     "; RUN: opt -gvn %s\ndefine void @f(){ret void}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]tool{
				"clang": nil,
				"opt":   printer,
				"creduce": func(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
					script := readFile(t, cmd.Args[0])
					require.Contains(t, script, "if [ $? -eq 134 ]")
					require.Contains(t, script, cmd.Args[1])
					require.Equal(t, tt.wantNotC, hasArg(cmd.Args, "--not-c"))
					require.NoError(t, os.WriteFile(inDir(cmd, cmd.Args[1]), []byte(tt.reduced), 0644))
					return clean()
				},
			})
			tc, d := f.addTest(t, tt.file, tt.content)

			added, err := CReduce{}.Reduce(context.Background(), f.env, tc, d)
			require.NoError(t, err)
			require.Len(t, added, 1)
			require.Equal(t, tt.want, readFile(t, added[0]))
			require.Equal(t, filepath.Ext(tt.file), filepath.Ext(added[0]))
			require.Equal(t, "creduce-crash-unconstrained", f.records(t)[0].Tag)
		})
	}
}

// isolationCompiler fails on -broken-pass or on the scalar evolution
// analysis, and passes otherwise.
func isolationCompiler(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
	if hasArg(cmd.Args, "-broken-pass") {
		return crash()
	}
	for i := 0; i+1 < len(cmd.Args); i++ {
		if cmd.Args[i] == "-analyze" && cmd.Args[i+1] == "-scalar-evolution" {
			return crash()
		}
	}
	return clean()
}

func isolationStrategy() *PassIsolate {
	p := NewPassIsolate()
	p.Driver = "cmd"
	p.Passes = []string{"-broken-pass"}
	return p
}

func TestPassIsolateFindsExactlyTheCrashingSubstitute(t *testing.T) {
	f := newFixture(t, map[string]tool{"cmd": isolationCompiler})
	tc, d := f.addTest(t, "t.ll", "; RUN: cmd -broken-pass %s\n"+irBody)
	p := isolationStrategy()

	added, err := p.Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Len(t, added, 1)

	got, err := directive.Extract(added[0])
	require.NoError(t, err)
	require.Equal(t, "cmd -enable-new-pm=0 -analyze -scalar-evolution %s", got.String())
	require.True(t, strings.HasSuffix(readFile(t, added[0]), irBody), "body must be kept byte for byte")

	records := f.records(t)
	require.Len(t, records, 1)
	require.Equal(t, "opt-analysis-isolate-crash-unconstrained", records[0].Tag)

	// A second run finds the same entry and adds nothing.
	added, err = p.Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Empty(t, added)
	require.Len(t, f.records(t), 1)
}

func TestPassIsolateDeclinesWhenPassIsNotTheCulprit(t *testing.T) {
	f := newFixture(t, map[string]tool{
		"cmd": func(*testing.T, *connectors.Command) *connectors.Outcome { return crash() },
	})
	tc, d := f.addTest(t, "t.ll", "; RUN: cmd -broken-pass %s\n"+irBody)

	added, err := isolationStrategy().Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Empty(t, added)
	require.Len(t, f.conn.calls, 2, "no substitute may run once removal still fails")
}

func TestPassIsolateIgnoresTimeouts(t *testing.T) {
	f := newFixture(t, map[string]tool{
		"cmd": func(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
			if hasArg(cmd.Args, "-broken-pass") {
				return crash()
			}
			if hasArg(cmd.Args, "-analyze") {
				return &connectors.Outcome{ExitCode: -1, TimedOut: true}
			}
			return clean()
		},
	})
	tc, d := f.addTest(t, "t.ll", "; RUN: cmd -broken-pass %s\n"+irBody)

	added, err := isolationStrategy().Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Empty(t, added)
}

func TestPassIsolateApplies(t *testing.T) {
	p := NewPassIsolate()
	tc := &models.TestCase{Path: "/c/t.ll", Language: models.LanguageIR}
	tests := []struct {
		run  string
		want bool
	}{
		{"opt -gvn -S < %s", true},
		{"opt -gvn -dse %s", false},
		{"opt -gvn-hoist %s", true},
		{"opt -O2 %s", false},
		{"llc -gvn %s", false},
	}
	for _, tt := range tests {
		d, err := directive.Parse(tt.run)
		require.NoError(t, err)
		if got := p.Applies(tc, d); got != tt.want {
			t.Errorf("Applies(%q) = %v, want %v", tt.run, got, tt.want)
		}
	}

	only := &PassIsolate{Driver: "opt", Passes: []string{"-gvn"}}
	d, _ := directive.Parse("opt -gvn-hoist %s")
	if only.Applies(tc, d) {
		t.Error("-gvn must not match -gvn-hoist")
	}
	if p.Applies(&models.TestCase{Path: "/c/t.c", Language: models.LanguageC}, d) {
		t.Error("Pass isolation applies to IR only")
	}
}

func clangTools(optCrashes bool) map[string]tool {
	return map[string]tool{
		"clang": func(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
			if !hasArg(cmd.Args, "-emit-llvm") {
				return crash()
			}
			out := argAfter(cmd.Args, "-o")
			require.NoError(t, os.WriteFile(out, []byte("; ModuleID = 'c'\n"+irBody), 0644))
			return clean()
		},
		"opt": func(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
			if optCrashes {
				return crash()
			}
			return printer(t, cmd)
		},
		"llc": func(*testing.T, *connectors.Command) *connectors.Outcome { return crash() },
	}
}

func TestClangToOpt(t *testing.T) {
	tests := []struct {
		name       string
		optCrashes bool
		wantTag    string
		wantRun    string
	}{
		{"optimizer crash", true, "clang-to-opt-crash-unconstrained", "opt -S -O2 < %s"},
		{"backend crash", false, "clang-to-llc-crash-unconstrained", "llc -O2 < %s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, clangTools(tt.optCrashes))
			tc, d := f.addTest(t, "t.c", "// RUN: clang -O2 -c %s\nint f(void) { return 0; }\n")

			added, err := ClangToOpt{}.Reduce(context.Background(), f.env, tc, d)
			require.NoError(t, err)
			require.Len(t, added, 1)
			require.Equal(t, ".ll", filepath.Ext(added[0]))

			got, err := directive.Extract(added[0])
			require.NoError(t, err)
			require.Equal(t, tt.wantRun, got.String())
			require.NotContains(t, readFile(t, added[0]), "ModuleID")
			require.Equal(t, tt.wantTag, f.records(t)[0].Tag)
		})
	}
}

func TestClangToOptDeclinesFrontendCrash(t *testing.T) {
	tools := clangTools(true)
	tools["clang"] = func(*testing.T, *connectors.Command) *connectors.Outcome { return crash() }
	f := newFixture(t, tools)
	tc, d := f.addTest(t, "t.c", "// RUN: clang -c %s\nint f(void) { return 0; }\n")

	added, err := ClangToOpt{}.Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Empty(t, added)
	require.Empty(t, f.conn.callsTo("opt"))
}

func TestClangToOptDeclinesWhenDerivedTestPasses(t *testing.T) {
	tools := clangTools(false)
	tools["llc"] = nil
	f := newFixture(t, tools)
	tc, d := f.addTest(t, "t.c", "// RUN: clang -c %s\nint f(void) { return 0; }\n")

	added, err := ClangToOpt{}.Reduce(context.Background(), f.env, tc, d)
	require.NoError(t, err)
	require.Empty(t, added)
	require.Empty(t, f.records(t))
}

func TestRegistryLookup(t *testing.T) {
	r := Builtin(nil)
	for _, name := range []string{"creduce", "creduce-crash-unconstrained", "opt-analysis-isolate", "llvm-reduce", "bugpoint", "clang-to-opt"} {
		if _, err := r.Lookup(name); err != nil {
			t.Errorf("Lookup(%q) failed: %v", name, err)
		}
	}
	if _, err := r.Lookup("delta"); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Lookup(delta) error = %v, want ErrUnknownStrategy", err)
	}
	if _, err := r.Resolve([]string{"bugpoint", "delta"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Resolve error = %v, want ErrUnknownStrategy", err)
	}
	if diff := cmp.Diff([]string{"bugpoint", "clang-to-opt", "creduce", "llvm-reduce", "opt-analysis-isolate"}, r.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}
