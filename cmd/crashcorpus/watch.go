package main

import (
	"context"
	"time"

	"github.com/fentz26/crashcorpus/internal/scheduler"
	"github.com/fentz26/crashcorpus/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchInitial  bool
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reduce tests as they are added to the corpus",
	Long: `Watches the corpus tree and runs a fresh fixed-point pass seeded with
every test that other tools write into it.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchInitial, "initial", false, "Run a full pass over the corpus before watching")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before a new file is processed")
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := openApp()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var last *scheduler.Scheduler
	pass := func(ctx context.Context, targets []string) error {
		sch, err := newPass(rt)
		if err != nil {
			return err
		}
		if err := sch.Seed(targets); err != nil {
			return err
		}
		if err := sch.Run(ctx); err != nil {
			return err
		}
		last = sch
		st := sch.Stats()
		logger.Info("Pass finished", zap.Int("targets", len(targets)), zap.Int("dispatched", st.Dispatched), zap.Int("added", st.Added))
		return nil
	}

	if watchInitial {
		if err := pass(ctx, nil); err != nil {
			return err
		}
	}

	w, err := watch.New(rt.corpus.Root(), watchDebounce, logger)
	if err != nil {
		return err
	}
	defer w.Close()
	logger.Info("Watching corpus", zap.String("corpus", rt.corpus.Root()))

	return w.Run(ctx, func(ctx context.Context, paths []string) error {
		// Entries the previous pass wrote itself were already processed.
		var fresh []string
		for _, p := range paths {
			if last != nil && last.Seen(p) {
				continue
			}
			fresh = append(fresh, p)
		}
		if len(fresh) == 0 {
			return nil
		}
		return pass(ctx, fresh)
	})
}
