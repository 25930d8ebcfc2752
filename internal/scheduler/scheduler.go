// Package scheduler provides the worklist engine that drives the corpus to a
// fixed point: every test that still fails is dispatched to the strategies
// for its language, and the corpus is rescanned for what they added until a
// rescan finds nothing new.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/crashcorpus/internal/audit"
	"github.com/fentz26/crashcorpus/internal/connectors"
	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/reduce"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"go.uber.org/zap"
)

// ErrNonTermination indicates the rescan bound was reached: strategies kept
// producing new entries and the run cannot converge.
var ErrNonTermination = errors.New("non-termination: rescan bound reached")

// Observer receives the outcome of every triage run.
type Observer interface {
	Observe(test string, o *connectors.Outcome) (*models.Observation, error)
}

// Stats summarizes a run.
type Stats struct {
	Visited    int
	Pending    int
	Rescans    int
	Dispatched int
	Skipped    int
	Added      int
}

// Scheduler is a single-threaded worklist engine. Instances share nothing.
type Scheduler struct {
	env        *reduce.Env
	config     *Config
	strategies map[models.Language][]reduce.Strategy
	observer   Observer
	log        *zap.Logger

	visited map[string]bool
	pending []string
	rescans int
	stats   Stats
}

// New creates a scheduler, resolving the configured strategy names.
func New(env *reduce.Env, registry *reduce.Registry, cfg *Config) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	strategies := make(map[models.Language][]reduce.Strategy, len(cfg.Strategies))
	for lang, names := range cfg.Strategies {
		resolved, err := registry.Resolve(names)
		if err != nil {
			return nil, fmt.Errorf("resolve %s strategies: %w", lang, err)
		}
		strategies[lang] = resolved
	}
	log := env.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		env:        env,
		config:     cfg,
		strategies: strategies,
		log:        log,
		visited:    make(map[string]bool),
	}, nil
}

// SetObserver attaches an observer for triage runs.
func (sch *Scheduler) SetObserver(o Observer) {
	sch.observer = o
}

// Seed restricts the run to targets: every other corpus file is marked
// visited and the admissible targets are pushed. Targets need not live in
// the corpus. Without targets Seed does nothing.
func (sch *Scheduler) Seed(targets []string) error {
	if len(targets) == 0 {
		return nil
	}
	err := sch.env.Corpus.Walk(func(path string) error {
		sch.visited[path] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk corpus: %w", err)
	}

	for _, target := range targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return err
		}
		sch.visited[abs] = true
		if sch.admissible(abs) {
			sch.push(abs)
		}
	}
	return nil
}

// Rescan walks the corpus and pushes every admissible file not yet seen.
// It returns how many files were pushed. The bound is checked before the
// walk, so a run performs at most MaxRescans rescans.
func (sch *Scheduler) Rescan() (int, error) {
	if sch.rescans >= sch.config.MaxRescans {
		return 0, fmt.Errorf("%w after %d rescans", ErrNonTermination, sch.rescans)
	}
	sch.rescans++

	added := 0
	err := sch.env.Corpus.Walk(func(path string) error {
		if sch.visited[path] {
			return nil
		}
		sch.visited[path] = true
		if sch.admissible(path) {
			sch.push(path)
			added++
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("walk corpus: %w", err)
	}
	sch.log.Info("Rescanned corpus", zap.Int("rescan", sch.rescans), zap.Int("new", added))
	return added, nil
}

// Run processes the worklist until a rescan finds nothing new. Fatal
// faults abort the run; everything else is logged.
func (sch *Scheduler) Run(ctx context.Context) error {
	if len(sch.pending) == 0 {
		if _, err := sch.Rescan(); err != nil {
			return err
		}
	}

	for len(sch.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sch.process(ctx, sch.pop()); err != nil {
			return err
		}
		if len(sch.pending) == 0 {
			if _, err := sch.Rescan(); err != nil {
				return err
			}
		}
	}
	sch.log.Info("Corpus reached a fixed point",
		zap.Int("visited", len(sch.visited)), zap.Int("dispatched", sch.stats.Dispatched), zap.Int("added", sch.stats.Added))
	return nil
}

// Stats returns the current counters.
func (sch *Scheduler) Stats() Stats {
	st := sch.stats
	st.Visited = len(sch.visited)
	st.Pending = len(sch.pending)
	st.Rescans = sch.rescans
	return st
}

// Seen reports whether the run has visited path.
func (sch *Scheduler) Seen(path string) bool {
	return sch.visited[path]
}

func (sch *Scheduler) push(path string) {
	sch.pending = append(sch.pending, path)
}

// pop takes the most recently pushed path.
func (sch *Scheduler) pop() string {
	last := len(sch.pending) - 1
	path := sch.pending[last]
	sch.pending = sch.pending[:last]
	return path
}

// admissible reports whether path may be scheduled: it must carry a valid
// directive and must not contain the exclusion pattern.
func (sch *Scheduler) admissible(path string) bool {
	if _, err := directive.Extract(path); err != nil {
		sch.log.Debug("Not scheduling test", zap.String("test", path), zap.Error(err))
		sch.env.Audit.Record(audit.ActionScanReject, map[string]string{"test": path}, "no directive", path, err.Error())
		return false
	}
	if sch.config.ExcludePattern == "" {
		return true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		sch.log.Warn("Failed to read test", zap.String("test", path), zap.Error(err))
		return false
	}
	if bytes.Contains(data, []byte(sch.config.ExcludePattern)) {
		sch.log.Debug("Excluded test", zap.String("test", path))
		sch.env.Audit.Record(audit.ActionScanReject, map[string]string{"test": path}, "excluded", path, sch.config.ExcludePattern)
		return false
	}
	return true
}

// process triages one test and dispatches it if it still fails.
func (sch *Scheduler) process(ctx context.Context, path string) error {
	log := sch.log.With(zap.String("test", path))

	tc, err := models.NewTestCase(path)
	if err != nil {
		return err
	}
	d, err := directive.Extract(path)
	if err != nil {
		log.Warn("Test changed since it was scheduled", zap.Error(err))
		sch.stats.Skipped++
		return nil
	}

	out, err := sch.env.Toolchain.RunDirective(ctx, d, path, toolchain.Options{Timeout: sch.config.TriageTimeout})
	if err != nil {
		return fmt.Errorf("triage %s: %w", path, err)
	}
	if sch.observer != nil {
		if _, err := sch.observer.Observe(path, out); err != nil {
			log.Warn("Failed to record observation", zap.Error(err))
		}
	}

	switch {
	case out.TimedOut:
		log.Info("Skipping test, triage timed out")
		sch.skip(path, "timeout")
		return nil
	case out.Succeeded():
		log.Debug("Skipping test, no longer fails")
		sch.skip(path, "passes")
		return nil
	}

	sch.stats.Dispatched++
	log.Info("Dispatching failing test", zap.Int("exit_code", out.ExitCode))
	sch.env.Audit.Record(audit.ActionTriageFail, map[string]interface{}{"test": path, "exit_code": out.ExitCode},
		"dispatched", path, d.String())

	for _, st := range sch.strategies[tc.Language] {
		added, err := st.Reduce(ctx, sch.env, tc, d)
		sch.stats.Added += len(added)
		if err != nil {
			return fmt.Errorf("%s on %s: %w", st.Name(), path, err)
		}
	}
	return nil
}

func (sch *Scheduler) skip(path, reason string) {
	sch.stats.Skipped++
	sch.env.Audit.Record(audit.ActionTriageSkip, map[string]string{"test": path}, reason, path, "")
}
