package scheduler

import (
	"time"

	"github.com/fentz26/crashcorpus/internal/config"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/toolchain"
)

// Config defines the worklist engine configuration.
type Config struct {
	// MaxRescans bounds the number of corpus rescans in one run.
	MaxRescans int
	// ExcludePattern marks files that are never scheduled.
	ExcludePattern string
	// TriageTimeout bounds the run that decides whether a test still fails.
	TriageTimeout time.Duration
	// Strategies names the strategies dispatched per language, in order.
	Strategies map[models.Language][]string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRescans:     50,
		ExcludePattern: " type {",
		TriageTimeout:  toolchain.TriageTimeout,
		Strategies: map[models.Language][]string{
			models.LanguageIR: {"bugpoint", "llvm-reduce", "opt-analysis-isolate"},
			models.LanguageC:  {"creduce"},
		},
	}
}

// FromConfig derives the engine configuration from the loaded file.
func FromConfig(cfg *config.Config) *Config {
	c := DefaultConfig()
	c.MaxRescans = cfg.MaxRescans
	c.ExcludePattern = cfg.ExcludePattern
	c.TriageTimeout = cfg.Timeouts.Triage
	c.Strategies = make(map[models.Language][]string, len(cfg.Strategies))
	for class, names := range cfg.Strategies {
		c.Strategies[models.Language(class)] = append([]string(nil), names...)
	}
	return c
}

// StrategiesFor returns the strategy names for a language.
func (c *Config) StrategiesFor(lang models.Language) []string {
	return c.Strategies[lang]
}
