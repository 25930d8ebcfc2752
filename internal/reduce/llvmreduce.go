package reduce

import (
	"context"
	"path/filepath"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/toolchain"
)

// LLVMReduce drives llvm-reduce, a structural delta reducer for IR.
type LLVMReduce struct{}

func (LLVMReduce) Name() string { return "llvm-reduce" }
func (LLVMReduce) Tag() string  { return "llvm-reduce" + TagSuffix }

func (LLVMReduce) Applies(tc *models.TestCase, d *directive.Directive) bool {
	return tc.Language == models.LanguageIR
}

func (s LLVMReduce) Reduce(ctx context.Context, env *Env, tc *models.TestCase, d *directive.Directive) ([]string, error) {
	if !s.Applies(tc, d) {
		env.decline(s, tc, "not an IR test")
		return nil, nil
	}
	dir, cleanup, err := env.scratch(s.Name())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	script, err := env.Toolchain.WritePredicate(dir, d, toolchain.ArgRef, toolchain.AnyFailure)
	if err != nil {
		return nil, err
	}

	out, err := env.Toolchain.RunTool(ctx, "llvm-reduce", []string{"-test=" + script, tc.Path},
		toolchain.Options{Dir: dir, Timeout: env.Timeouts.Tool})
	if err != nil {
		return nil, err
	}
	if !out.Succeeded() {
		env.toolFailed(s, tc, "llvm-reduce", out)
		return nil, nil
	}

	reduced := filepath.Join(dir, "reduced.ll")
	if env.outputMissing(s, tc, reduced) {
		return nil, nil
	}
	candidate := filepath.Join(dir, "candidate.ll")
	if err := copyFile(reduced, candidate); err != nil {
		return nil, err
	}
	return env.finish(s, tc, candidate)
}
