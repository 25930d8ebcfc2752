package main

import (
	"fmt"

	"github.com/fentz26/crashcorpus/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var noObserve bool

var manageCmd = &cobra.Command{
	Use:   "manage [targets...]",
	Short: "Reduce the corpus to a fixed point",
	Long: `Runs every failing corpus test through the reducers configured for its
language and rescans for new entries until nothing new appears. With targets,
only those tests and what they produce are processed.`,
	RunE: runManage,
}

func init() {
	manageCmd.Flags().BoolVar(&noObserve, "no-observe", false, "Do not record observations of triage runs")
}

func runManage(cmd *cobra.Command, args []string) error {
	rt, err := openApp()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	sch, err := newPass(rt)
	if err != nil {
		return err
	}
	if err := sch.Seed(args); err != nil {
		return err
	}
	err = sch.Run(ctx)
	st := sch.Stats()
	logger.Info("Run finished",
		zap.Int("visited", st.Visited), zap.Int("rescans", st.Rescans),
		zap.Int("dispatched", st.Dispatched), zap.Int("skipped", st.Skipped), zap.Int("added", st.Added))
	if err != nil {
		return fmt.Errorf("manage corpus: %w", err)
	}
	return nil
}

// newPass builds a fresh worklist engine over the shared components.
func newPass(rt *app) (*scheduler.Scheduler, error) {
	sch, err := scheduler.New(rt.env, rt.registry, scheduler.FromConfig(rt.cfg))
	if err != nil {
		return nil, err
	}
	if !noObserve {
		rec, err := rt.recorder()
		if err != nil {
			logger.Warn("Observations disabled", zap.Error(err))
		} else {
			sch.SetObserver(rec)
		}
	}
	return sch, nil
}
