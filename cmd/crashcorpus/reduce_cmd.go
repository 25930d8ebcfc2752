package main

import (
	"fmt"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reduceCmd = &cobra.Command{
	Use:   "reduce [reducer] [test]",
	Short: "Reduce a single test with one reducer",
	Long: `Runs one named reducer on a test and adds the result to the corpus.
The reducer may be given by name or by provenance tag.`,
	Args: cobra.ExactArgs(2),
	RunE: runReduce,
}

func runReduce(cmd *cobra.Command, args []string) error {
	rt, err := openApp()
	if err != nil {
		return err
	}
	defer rt.Close()

	strategy, err := rt.registry.Lookup(args[0])
	if err != nil {
		return err
	}
	tc, err := models.NewTestCase(args[1])
	if err != nil {
		return err
	}
	d, err := directive.Extract(tc.Path)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out, err := rt.env.Toolchain.RunDirective(ctx, d, tc.Path, triageOptions(rt))
	if err != nil {
		return err
	}
	if !out.Failed() {
		logger.Info("Test does not fail, nothing to reduce", zap.String("test", tc.Path), zap.Bool("timed_out", out.TimedOut))
		return nil
	}

	added, err := strategy.Reduce(ctx, rt.env, tc, d)
	if err != nil {
		return err
	}
	for _, path := range added {
		fmt.Println(path)
	}
	return nil
}
