package main

import (
	"fmt"
	"path/filepath"

	"github.com/fentz26/crashcorpus/internal/corpus"
	"github.com/fentz26/crashcorpus/internal/report"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyTest  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show decisions, observations and provenance",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of decision records")
	historyCmd.Flags().StringVar(&historyTest, "test", "", "Only show records about this test")
}

func runHistory(cmd *cobra.Command, args []string) error {
	rt, err := openApp()
	if err != nil {
		return err
	}
	defer rt.Close()

	var test, rel, sig string
	if historyTest != "" {
		if test, err = filepath.Abs(historyTest); err != nil {
			return err
		}
		if rel, err = filepath.Rel(rt.corpus.Root(), test); err != nil {
			rel = test
		}
		if sig, err = corpus.HashFile(test); err != nil {
			return err
		}
	}

	decisions, err := rt.store.ListPDR(test, historyLimit)
	if err != nil {
		return err
	}
	observations, err := rt.store.ListObservations(sig)
	if err != nil {
		return err
	}
	records, err := rt.corpus.ReadLog()
	if err != nil {
		return err
	}

	fmt.Print(report.Decisions(decisions))
	fmt.Println()
	fmt.Print(report.Observations(observations))
	fmt.Println()
	fmt.Print(report.Provenance(records, rel))
	return nil
}
