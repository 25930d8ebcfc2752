package reduce

import (
	"context"
	"path/filepath"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/toolchain"
)

// Bugpoint drives bugpoint, a bisecting reducer for opt crashes.
type Bugpoint struct{}

func (Bugpoint) Name() string { return "bugpoint" }
func (Bugpoint) Tag() string  { return "bugpoint" + TagSuffix }

func (Bugpoint) Applies(tc *models.TestCase, d *directive.Directive) bool {
	return tc.Language == models.LanguageIR && filepath.Base(d.Name) == "opt"
}

// Args returns bugpoint's command line for d: the opt flags with -S
// dropped and the input passed positionally.
func (Bugpoint) Args(d *directive.Directive, test string) []string {
	bd := d.WithoutArg("-S")
	if bd.Stdin != "" {
		bd = bd.AppendArgs(bd.Stdin)
		bd.Stdin = ""
	}
	bound := bd.Substitute(test)
	return append(bound.Args, "--safe-run-llc")
}

func (s Bugpoint) Reduce(ctx context.Context, env *Env, tc *models.TestCase, d *directive.Directive) ([]string, error) {
	if !s.Applies(tc, d) {
		env.decline(s, tc, "not an opt test")
		return nil, nil
	}
	dir, cleanup, err := env.scratch(s.Name())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out, err := env.Toolchain.RunTool(ctx, "bugpoint", s.Args(d, tc.Path),
		toolchain.Options{Dir: dir, Timeout: env.Timeouts.Tool, Stable: true})
	if err != nil {
		return nil, err
	}
	if !out.Succeeded() {
		env.toolFailed(s, tc, "bugpoint", out)
		return nil, nil
	}

	reduced := filepath.Join(dir, "bugpoint-reduced-simplified.bc")
	if env.outputMissing(s, tc, reduced) {
		return nil, nil
	}
	candidate := filepath.Join(dir, "candidate.ll")
	out, err = env.reprint(ctx, dir, reduced, candidate)
	if err != nil {
		return nil, err
	}
	if !out.Succeeded() {
		env.toolFailed(s, tc, "opt -S", out)
		return nil, nil
	}
	return env.finish(s, tc, candidate)
}
