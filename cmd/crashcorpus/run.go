package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/observe"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [test]",
	Short: "Run a test once and print its observation record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var runManyCmd = &cobra.Command{
	Use:   "run-many [n] [test]",
	Short: "Run a test n times and print each distinct observation",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunMany,
}

var wrapCmd = &cobra.Command{
	Use:   "wrap [test]",
	Short: "Run a test and propagate its output and exit code",
	Args:  cobra.ExactArgs(1),
	RunE:  runWrap,
}

func triageOptions(rt *app) toolchain.Options {
	return toolchain.Options{Timeout: rt.cfg.Timeouts.Triage}
}

func runRun(cmd *cobra.Command, args []string) error {
	return observeRuns(args[0], 1)
}

func runRunMany(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid run count %q", args[0])
	}
	return observeRuns(args[1], n)
}

// observeRuns runs test n times, prints one line per distinct observation
// and stores the tallies.
func observeRuns(test string, n int) error {
	rt, err := openApp()
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.recorder()
	if err != nil {
		return err
	}
	tc, err := models.NewTestCase(test)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var runs []*models.Observation
	for i := 0; i < n; i++ {
		out, err := rt.toolchain.RunTest(ctx, tc.Path, triageOptions(rt))
		if err != nil {
			return err
		}
		obs, err := rec.Form(tc.Path, out)
		if err != nil {
			return err
		}
		runs = append(runs, obs)
	}

	for _, obs := range observe.Tally(runs) {
		fmt.Println(observe.Format(obs))
		if _, err := rec.Record(obs); err != nil {
			return err
		}
	}
	return nil
}

func runWrap(cmd *cobra.Command, args []string) error {
	rt, err := openApp()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	out, err := rt.toolchain.RunTest(ctx, args[0], triageOptions(rt))
	if err != nil {
		return err
	}
	os.Stdout.Write(out.Stdout)
	os.Stderr.Write(out.Stderr)
	if out.ExitCode != 0 {
		return exitCode(out.ExitCode)
	}
	return nil
}
