package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fentz26/crashcorpus/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is the release version, overridden at build time.
var Version = "0.1.0-dev"

var (
	configPath string
	verbose    bool
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crashcorpus",
	Short: "crashcorpus - compiler crash corpus manager",
	Long: `crashcorpus maintains a corpus of self-describing compiler crash tests.
It runs every failing test through external reducers and keeps every smaller
variant that still fails, until the corpus reaches a fixed point.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(manageCmd)
	rootCmd.AddCommand(reduceCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runManyCmd)
	rootCmd.AddCommand(wrapCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crashcorpus %s\n", Version)
	},
}

// exitCode asks main to exit with a specific status without printing.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
