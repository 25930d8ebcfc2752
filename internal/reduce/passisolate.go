package reduce

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fentz26/crashcorpus/internal/config"
	"github.com/fentz26/crashcorpus/internal/connectors"
	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"go.uber.org/zap"
)

// PassIsolate narrows an opt crash to a cheaper pipeline: when a test
// names exactly one transform pass and stops failing without it, each
// substitute (an analysis or a trivial transform) is tried in its place and
// every substitute that still fails becomes a new test.
type PassIsolate struct {
	Driver      string
	Passes      []string
	Substitutes [][]string
}

// NewPassIsolate returns the heuristic with the default pass tables.
func NewPassIsolate() *PassIsolate {
	p := &PassIsolate{Driver: "opt", Passes: config.DefaultPasses}
	for _, s := range config.DefaultSubstitutes {
		p.Substitutes = append(p.Substitutes, strings.Fields(s))
	}
	return p
}

func (*PassIsolate) Name() string { return "opt-analysis-isolate" }
func (*PassIsolate) Tag() string  { return "opt-analysis-isolate" + TagSuffix }

func (p *PassIsolate) Applies(tc *models.TestCase, d *directive.Directive) bool {
	_, err := p.selectPass(tc, d)
	return err == nil
}

// selectPass returns the single transform pass named by d.
func (p *PassIsolate) selectPass(tc *models.TestCase, d *directive.Directive) (string, error) {
	if tc.Language != models.LanguageIR {
		return "", fmt.Errorf("not an IR test")
	}
	if filepath.Base(d.Name) != p.Driver {
		return "", fmt.Errorf("command is %s, not %s", d.Name, p.Driver)
	}
	var found string
	for _, pass := range p.Passes {
		if !d.HasArg(pass) {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("ambiguous pass selection: %s and %s", found, pass)
		}
		found = pass
	}
	if found == "" {
		return "", fmt.Errorf("no known transform pass")
	}
	return found, nil
}

func (p *PassIsolate) Reduce(ctx context.Context, env *Env, tc *models.TestCase, d *directive.Directive) ([]string, error) {
	pass, err := p.selectPass(tc, d)
	if err != nil {
		env.decline(p, tc, err.Error())
		return nil, nil
	}
	log := env.logger().With(zap.String("strategy", p.Name()), zap.String("test", tc.Path), zap.String("pass", pass))
	log.Debug("Isolating pass")

	dir, cleanup, err := env.scratch(p.Name())
	if err != nil {
		return nil, err
	}
	defer cleanup()
	candidate := filepath.Join(dir, "candidate.ll")

	out, err := env.runTest(ctx, tc.Path)
	if err != nil {
		return nil, err
	}
	if !out.Failed() {
		env.decline(p, tc, "original no longer fails")
		return nil, nil
	}

	// Without the pass the test must pass; otherwise the pass is not the
	// culprit and substitutes prove nothing.
	out, err = p.runVariant(ctx, env, tc, d.WithoutArg(pass), candidate)
	if err != nil {
		return nil, err
	}
	if !out.Succeeded() {
		env.decline(p, tc, "still fails without "+pass)
		return nil, nil
	}

	var added []string
	for _, sub := range p.Substitutes {
		if len(sub) == 1 && sub[0] == pass {
			continue
		}
		variant := d.ReplaceArg(pass, sub...)
		out, err := p.runVariant(ctx, env, tc, variant, candidate)
		if err != nil {
			return added, err
		}
		if !out.Failed() {
			log.Debug("Substitute does not reproduce", zap.Strings("substitute", sub), zap.Bool("timed_out", out.TimedOut))
			continue
		}
		added = append(added, env.offer(p.Tag(), tc, candidate)...)
	}
	return added, nil
}

// runVariant writes tc with its RUN line replaced by v to candidate and runs
// it.
func (p *PassIsolate) runVariant(ctx context.Context, env *Env, tc *models.TestCase, v *directive.Directive, candidate string) (*connectors.Outcome, error) {
	if err := copyFile(tc.Path, candidate); err != nil {
		return nil, err
	}
	if err := directive.ReplaceRunLine(candidate, v); err != nil {
		return nil, fmt.Errorf("rewrite run line: %w", err)
	}
	return env.runTest(ctx, candidate)
}
