// Package reduce implements the reduction strategies. Each strategy drives
// one external minimization tool, or a fixed heuristic, against a failing
// test and offers what it finds to the corpus.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fentz26/crashcorpus/internal/audit"
	"github.com/fentz26/crashcorpus/internal/config"
	"github.com/fentz26/crashcorpus/internal/connectors"
	"github.com/fentz26/crashcorpus/internal/corpus"
	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/normalize"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"go.uber.org/zap"
)

// TagSuffix is appended to strategy names to form provenance tags.
const TagSuffix = "-crash-unconstrained"

// ErrUnknownStrategy is returned by Lookup for an unregistered name.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy is one reduction technique.
//
// Reduce is called only for a test verified to fail under its own
// directive. It returns the corpus entries it added. A declined
// precondition, a failed tool or a timeout yields no entries and a nil
// error; an error is returned only for faults that must abort the run.
type Strategy interface {
	Name() string
	Tag() string
	Applies(tc *models.TestCase, d *directive.Directive) bool
	Reduce(ctx context.Context, env *Env, tc *models.TestCase, d *directive.Directive) ([]string, error)
}

// Timeouts bound strategy runs.
type Timeouts struct {
	Triage    time.Duration
	Tool      time.Duration
	Normalize time.Duration
}

// DefaultTimeouts returns the toolchain defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Triage:    toolchain.TriageTimeout,
		Tool:      toolchain.ToolTimeout,
		Normalize: toolchain.NormalizeTimeout,
	}
}

// Env carries the collaborators shared by all strategies.
type Env struct {
	Toolchain *toolchain.Toolchain
	Corpus    *corpus.Store
	Audit     *audit.PDRWriter
	Logger    *zap.Logger
	Timeouts  Timeouts
	// ScratchDir is the parent of per-run working directories; empty
	// uses the system temp dir.
	ScratchDir string
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// scratch creates a private working directory for one strategy run.
func (e *Env) scratch(name string) (string, func(), error) {
	dir, err := os.MkdirTemp(e.ScratchDir, "crashcorpus-"+name+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create working dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

func (e *Env) decline(s Strategy, tc *models.TestCase, reason string) {
	e.logger().Debug("Strategy declined",
		zap.String("strategy", s.Name()), zap.String("test", tc.Path), zap.String("reason", reason))
	e.Audit.Record(audit.ActionStrategyDecline, map[string]string{"strategy": s.Name(), "test": tc.Path},
		"declined", tc.Path, reason)
}

func (e *Env) toolFailed(s Strategy, tc *models.TestCase, tool string, out *connectors.Outcome) {
	outcome := "failed"
	fields := []zap.Field{zap.String("strategy", s.Name()), zap.String("tool", tool), zap.String("test", tc.Path)}
	if out.TimedOut {
		outcome = "timeout"
	} else {
		fields = append(fields, zap.Int("exit_code", out.ExitCode))
	}
	e.logger().Warn("Reduction tool "+outcome, fields...)
	e.Audit.Record(audit.ActionToolFailure, map[string]string{"strategy": s.Name(), "tool": tool, "test": tc.Path},
		outcome, tc.Path, firstLine(out.Stderr))
}

// offer adds candidate to the corpus under tag with tc as the source.
func (e *Env) offer(tag string, tc *models.TestCase, candidate string) []string {
	log := e.logger().With(zap.String("tag", tag), zap.String("test", tc.Path))
	path, added, err := e.Corpus.Add(tag, tc.Path, candidate)
	switch {
	case err != nil && path == "":
		log.Warn("Candidate rejected", zap.Error(err))
		e.Audit.Record(audit.ActionStoreReject, map[string]string{"tag": tag, "test": tc.Path}, "rejected", tc.Path, err.Error())
		return nil
	case err != nil:
		log.Warn("Provenance record not written", zap.String("entry", path), zap.Error(err))
	case !added:
		log.Debug("Candidate already in corpus")
		e.Audit.Record(audit.ActionStoreDuplicate, map[string]string{"tag": tag, "test": tc.Path}, "duplicate", tc.Path, "")
		return nil
	}
	log.Info("Added reduced test", zap.String("entry", path))
	e.Audit.Record(audit.ActionStoreAdd, map[string]string{"tag": tag, "test": tc.Path}, "added", tc.Path, path)
	return []string{path}
}

// reprint runs the IR printer over in, writing out.
func (e *Env) reprint(ctx context.Context, dir, in, out string) (*connectors.Outcome, error) {
	return e.Toolchain.RunTool(ctx, "opt", []string{"-S", in, "-o", out},
		toolchain.Options{Dir: dir, Timeout: e.Timeouts.Normalize})
}

// runTest reruns a test file under its own directive with the triage
// deadline.
func (e *Env) runTest(ctx context.Context, path string) (*connectors.Outcome, error) {
	return e.Toolchain.RunTest(ctx, path, toolchain.Options{Timeout: e.Timeouts.Triage})
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// copyFile copies src to dst with mode 0644.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return nil
}

// finish normalizes candidate against the source test's comment block and
// offers it.
func (e *Env) finish(s Strategy, tc *models.TestCase, candidate string) ([]string, error) {
	if err := normalize.RewriteFrom(tc.Path, candidate); err != nil {
		e.logger().Warn("Normalize failed", zap.String("strategy", s.Name()), zap.String("test", tc.Path), zap.Error(err))
		return nil, nil
	}
	return e.offer(s.Tag(), tc, candidate), nil
}

// outputMissing reports a tool that exited cleanly without its output.
func (e *Env) outputMissing(s Strategy, tc *models.TestCase, path string) bool {
	if _, err := os.Stat(path); err == nil {
		return false
	}
	e.logger().Warn("Reduction tool produced no output",
		zap.String("strategy", s.Name()), zap.String("test", tc.Path), zap.String("expected", path))
	return true
}

// Registry maps names to strategies.
type Registry struct {
	byName map[string]Strategy
}

// NewRegistry builds a registry of the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{byName: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.byName[s.Name()] = s
	}
	return r
}

// Lookup resolves a strategy by name or provenance tag.
func (r *Registry) Lookup(name string) (Strategy, error) {
	if s, ok := r.byName[strings.TrimSuffix(name, TagSuffix)]; ok {
		return s, nil
	}
	for _, s := range r.byName {
		if s.Tag() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (known: %s)", ErrUnknownStrategy, name, strings.Join(r.Names(), ", "))
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up every name, failing on the first unknown one.
func (r *Registry) Resolve(names []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		s, err := r.Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Builtin returns a registry of every strategy, tuned by cfg when non-nil.
func Builtin(cfg *config.Config) *Registry {
	iso := NewPassIsolate()
	creduce := CReduce{CrashCode: DefaultCrashCode}
	if cfg != nil {
		iso.Driver = cfg.PassIsolation.Driver
		iso.Passes = cfg.PassIsolation.Passes
		iso.Substitutes = cfg.SubstituteFlags()
		creduce.CrashCode = cfg.CreduceCrashCode
	}
	return NewRegistry(Bugpoint{}, LLVMReduce{}, creduce, iso, ClangToOpt{})
}

// EnvTimeouts converts configured timeouts.
func EnvTimeouts(t config.Timeouts) Timeouts {
	return Timeouts{Triage: t.Triage, Tool: t.Tool, Normalize: t.Normalize}
}
