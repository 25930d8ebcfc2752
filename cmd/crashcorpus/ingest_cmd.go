package main

import (
	"fmt"

	"github.com/fentz26/crashcorpus/internal/ingest"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [bcfile]",
	Short: "Turn an OSS-Fuzz opt reproducer into a corpus test",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	rt, err := openApp()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ing := ingest.New(rt.toolchain, rt.corpus.Root(), rt.cfg.Timeouts.Triage, logger)
	path, err := ing.Ingest(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
