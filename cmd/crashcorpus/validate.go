package main

import (
	"fmt"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [test]",
	Short: "Check that a test carries a valid RUN directive",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	d, err := directive.Extract(args[0])
	if err != nil {
		fmt.Printf("%s: invalid: %v\n", args[0], err)
		return exitCode(1)
	}
	fmt.Printf("%s: %s\n", args[0], d)
	return nil
}
