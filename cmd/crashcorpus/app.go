package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fentz26/crashcorpus/internal/audit"
	"github.com/fentz26/crashcorpus/internal/config"
	"github.com/fentz26/crashcorpus/internal/connectors/localexec"
	"github.com/fentz26/crashcorpus/internal/corpus"
	"github.com/fentz26/crashcorpus/internal/observe"
	"github.com/fentz26/crashcorpus/internal/reduce"
	"github.com/fentz26/crashcorpus/internal/store"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"go.uber.org/zap"
)

// app holds the components shared by the commands.
type app struct {
	cfg       *config.Config
	store     *store.Store
	toolchain *toolchain.Toolchain
	corpus    *corpus.Store
	env       *reduce.Env
	registry  *reduce.Registry
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	c, err := corpus.Open(cfg.CorpusDir)
	if err != nil {
		s.Close()
		return nil, err
	}

	workDir, _ := os.Getwd()
	tc := toolchain.New(toolchain.Build{Dir: cfg.BuildDir}, localexec.New(workDir), cfg.ASLRDisabled())
	logger.Debug("Loaded configuration",
		zap.String("build", cfg.BuildDir), zap.String("revision", cfg.Revision),
		zap.String("corpus", cfg.CorpusDir), zap.String("db", cfg.DBPath))

	return &app{
		cfg:       cfg,
		store:     s,
		toolchain: tc,
		corpus:    c,
		env: &reduce.Env{
			Toolchain: tc,
			Corpus:    c,
			Audit:     audit.NewPDRWriter(s),
			Logger:    logger,
			Timeouts:  reduce.EnvTimeouts(cfg.Timeouts),
		},
		registry: reduce.Builtin(cfg),
	}, nil
}

func (r *app) Close() {
	if err := r.store.Close(); err != nil {
		logger.Warn("Database close error", zap.Error(err))
	}
}

func (r *app) recorder() (*observe.Recorder, error) {
	return observe.NewRecorder(r.cfg.Revision, r.toolchain.Build(), r.store)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
