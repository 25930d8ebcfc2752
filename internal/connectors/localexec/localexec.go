// Package localexec provides a local command executor with deadlines and
// process-group cleanup.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fentz26/crashcorpus/internal/connectors"
	"golang.org/x/sys/unix"
)

// DefaultTimeout applies to commands that do not set their own.
const DefaultTimeout = 30 * time.Second

// waitDelay bounds how long Wait blocks on pipes held open by orphaned
// grandchildren after the process group was killed.
const waitDelay = 5 * time.Second

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
}

// New creates a new LocalExec connector. workDir is used for commands that
// do not specify a directory.
func New(workDir string) *LocalExec {
	return &LocalExec{workDir: workDir}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// Execute runs a command to completion or until its timeout expires.
func (l *LocalExec) Execute(ctx context.Context, c *connectors.Command) (*connectors.Outcome, error) {
	if c == nil || c.Name == "" {
		return nil, fmt.Errorf("exec error: empty command")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, c.Name, c.Args...)
	execCmd.Dir = l.workDir
	if c.Dir != "" {
		execCmd.Dir = c.Dir
	}
	execCmd.Env = append(os.Environ(), c.Env...)

	// Run in its own process group so a deadline takes the whole tree down;
	// reducers spawn many short-lived children.
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	execCmd.Cancel = func() error {
		return unix.Kill(-execCmd.Process.Pid, unix.SIGKILL)
	}
	execCmd.WaitDelay = waitDelay

	if c.Stdin != "" {
		f, err := os.Open(resolve(execCmd.Dir, c.Stdin))
		if err != nil {
			return nil, fmt.Errorf("open stdin: %w", err)
		}
		defer f.Close()
		execCmd.Stdin = f
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	if c.Stdout != "" {
		f, err := os.Create(resolve(execCmd.Dir, c.Stdout))
		if err != nil {
			return nil, fmt.Errorf("open stdout: %w", err)
		}
		defer f.Close()
		execCmd.Stdout = f
	}
	switch {
	case c.MergeStderr:
		execCmd.Stderr = &stdout
	case c.Stderr != "" && c.Stderr == c.Stdout:
		execCmd.Stderr = execCmd.Stdout
	case c.Stderr != "":
		f, err := os.Create(resolve(execCmd.Dir, c.Stderr))
		if err != nil {
			return nil, fmt.Errorf("open stderr: %w", err)
		}
		defer f.Close()
		execCmd.Stderr = f
	}

	err := execCmd.Run()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("exec cancelled: %w", ctx.Err())
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &connectors.Outcome{
			ExitCode: -1,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			TimedOut: true,
		}, nil
	}

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitStatus(exitError)
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.Outcome{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// exitStatus maps death by signal to 128+signal; ExitCode alone reports -1.
func exitStatus(e *exec.ExitError) int {
	if ws, ok := e.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return e.ExitCode()
}

// resolve interprets a relative redirection target against dir.
func resolve(dir, path string) string {
	if !filepath.IsAbs(path) && dir != "" {
		return filepath.Join(dir, path)
	}
	return path
}
