package reduce

import (
	"context"
	"path/filepath"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/normalize"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"go.uber.org/zap"
)

// ClangToOpt turns a clang crash into a standalone opt or llc test. The
// unoptimized IR is captured; if the optimizer crashes on it the IR becomes
// an opt test, otherwise the optimized IR is tried against the backend.
type ClangToOpt struct{}

// LLCTag is the provenance tag of backend tests derived from clang crashes.
const LLCTag = "clang-to-llc" + TagSuffix

const (
	optRunLine = "opt -S -O2 < %s"
	llcRunLine = "llc -O2 < %s"
)

func (ClangToOpt) Name() string { return "clang-to-opt" }
func (ClangToOpt) Tag() string  { return "clang-to-opt" + TagSuffix }

func (ClangToOpt) Applies(tc *models.TestCase, d *directive.Directive) bool {
	return filepath.Base(d.Name) == "clang"
}

func (s ClangToOpt) Reduce(ctx context.Context, env *Env, tc *models.TestCase, d *directive.Directive) ([]string, error) {
	if !s.Applies(tc, d) {
		env.decline(s, tc, "not a clang test")
		return nil, nil
	}
	log := env.logger().With(zap.String("strategy", s.Name()), zap.String("test", tc.Path))

	out, err := env.runTest(ctx, tc.Path)
	if err != nil {
		return nil, err
	}
	if !out.Failed() {
		env.decline(s, tc, "original no longer fails")
		return nil, nil
	}

	dir, cleanup, err := env.scratch(s.Name())
	if err != nil {
		return nil, err
	}
	defer cleanup()
	candidate := filepath.Join(dir, "candidate.ll")
	backend := filepath.Join(dir, "llc-candidate.ll")

	emit := d.AppendArgs("-emit-llvm", "-disable-llvm-optzns", "-o", candidate)
	out, err = env.Toolchain.RunDirective(ctx, emit, tc.Path, toolchain.Options{Dir: dir, Timeout: env.Timeouts.Triage})
	if err != nil {
		return nil, err
	}
	if !out.Succeeded() {
		env.decline(s, tc, "unable to extract IR, probably a frontend crash")
		return nil, nil
	}

	optimize, err := directive.Parse(optRunLine)
	if err != nil {
		return nil, err
	}
	optimize = optimize.AppendArgs("-o", backend)
	out, err = env.Toolchain.RunDirective(ctx, optimize, candidate, toolchain.Options{Dir: dir, Timeout: env.Timeouts.Triage})
	if err != nil {
		return nil, err
	}

	if out.Failed() {
		return s.derive(ctx, env, tc, candidate, optRunLine, s.Tag(), log)
	}
	if !out.Succeeded() {
		env.decline(s, tc, "optimizer timed out")
		return nil, nil
	}
	return s.derive(ctx, env, tc, backend, llcRunLine, LLCTag, log)
}

// derive gives candidate a fresh RUN line, checks it reproduces and offers
// it under tag.
func (s ClangToOpt) derive(ctx context.Context, env *Env, tc *models.TestCase, candidate, run, tag string, log *zap.Logger) ([]string, error) {
	d, err := directive.Parse(run)
	if err != nil {
		return nil, err
	}
	line, err := directive.RunLine(candidate, d)
	if err != nil {
		return nil, err
	}
	if err := normalize.Rewrite([]string{line}, candidate); err != nil {
		log.Warn("Normalize failed", zap.Error(err))
		return nil, nil
	}

	out, err := env.runTest(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !out.Failed() {
		log.Info("Derived test does not reproduce", zap.String("tag", tag))
		env.decline(s, tc, "derived "+filepath.Base(candidate)+" does not reproduce")
		return nil, nil
	}
	return env.offer(tag, tc, candidate), nil
}
