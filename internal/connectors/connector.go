// Package connectors defines the process-execution interface for crashcorpus.
package connectors

import (
	"bytes"
	"context"
	"time"
)

// Command describes one external process invocation. Name must already be
// resolved to an executable path or a name found on PATH. Stdin, Stdout and
// Stderr name files; empty Stdout and Stderr are captured in the Outcome.
// MergeStderr sends stderr to the captured stdout stream, and a Stderr equal
// to Stdout shares the file.
type Command struct {
	Name        string        `json:"name"`
	Args        []string      `json:"args"`
	Dir         string        `json:"dir,omitempty"`
	Env         []string      `json:"env,omitempty"`
	Stdin       string        `json:"stdin,omitempty"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	MergeStderr bool          `json:"merge_stderr,omitempty"`
	Timeout     time.Duration `json:"timeout"`
}

// Outcome holds the result of a command execution. A process killed by a
// signal reports 128 plus the signal number, as a shell would.
type Outcome struct {
	ExitCode int    `json:"exit_code"`
	Stdout   []byte `json:"stdout"`
	Stderr   []byte `json:"stderr"`
	// TimedOut is set when the command was killed at its deadline.
	TimedOut bool `json:"timed_out"`
}

// Succeeded reports a zero exit within the deadline.
func (o *Outcome) Succeeded() bool {
	return !o.TimedOut && o.ExitCode == 0
}

// Failed reports a completed run with a non-zero exit.
func (o *Outcome) Failed() bool {
	return !o.TimedOut && o.ExitCode != 0
}

// Equal reports whether two outcomes agree on exit code, stdout and stderr.
func (o *Outcome) Equal(other *Outcome) bool {
	return o.ExitCode == other.ExitCode &&
		bytes.Equal(o.Stdout, other.Stdout) &&
		bytes.Equal(o.Stderr, other.Stderr)
}

// Connector defines the interface for executing commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns its outcome. A timeout is reported
	// through Outcome.TimedOut, not as an error; errors mean the process
	// could not be run at all.
	Execute(ctx context.Context, cmd *Command) (*Outcome, error)
}
