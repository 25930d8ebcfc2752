// Package toolchain runs RUN directives against a compiler build: it resolves
// binaries inside the build, substitutes the placeholder, disables address
// randomization and executes through a connector.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fentz26/crashcorpus/internal/connectors"
	"github.com/fentz26/crashcorpus/internal/directive"
	"golang.org/x/sys/unix"
)

// Default deadlines for the different kinds of runs.
const (
	TriageTimeout    = 30 * time.Second
	ToolTimeout      = 5 * time.Minute
	NormalizeTimeout = 20 * time.Second
)

// ErrUnresolvable indicates a command exists neither in the build nor on
// PATH. It is an operator error and aborts the run.
var ErrUnresolvable = errors.New("unresolvable binary")

// Build is a compiler build directory with binaries in <Dir>/bin.
type Build struct {
	Dir string
}

// BinDir returns the directory holding the build's binaries.
func (b Build) BinDir() string {
	return filepath.Join(b.Dir, "bin")
}

// Options tune a single run.
type Options struct {
	// Dir is the working directory; empty inherits the connector's.
	Dir string
	// Timeout defaults to TriageTimeout.
	Timeout time.Duration
	// Stable requests the ASLR-disabling wrapper for a tool run.
	Stable bool
}

// Toolchain executes directives and tools of one build.
type Toolchain struct {
	build       Build
	conn        connectors.Connector
	disableASLR bool
	arch        string
}

// New creates a Toolchain. With disableASLR every directive runs under
// `setarch <machine> -R` so crash addresses are stable across runs.
func New(build Build, conn connectors.Connector, disableASLR bool) *Toolchain {
	return &Toolchain{
		build:       build,
		conn:        conn,
		disableASLR: disableASLR,
		arch:        machine(),
	}
}

// Build returns the build this toolchain runs.
func (t *Toolchain) Build() Build {
	return t.build
}

// Resolve finds name in the build's bin directory, falling back to PATH.
func (t *Toolchain) Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnresolvable, name)
	}
	candidate := filepath.Join(t.build.BinDir(), name)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, nil
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s not in %s or on PATH", ErrUnresolvable, name, t.build.BinDir())
}

// Command builds the process invocation for d with the placeholder bound to
// subst. Directives always get the ASLR wrapper when it is enabled.
func (t *Toolchain) Command(d *directive.Directive, subst string, opts Options) (*connectors.Command, error) {
	bound := d.Substitute(subst)
	opts.Stable = true
	cmd, err := t.ToolCommand(bound.Name, bound.Args, opts)
	if err != nil {
		return nil, err
	}
	cmd.Stdin = bound.Stdin
	cmd.Stdout = bound.Stdout
	if bound.Stderr == directive.StderrToStdout {
		cmd.MergeStderr = true
	} else {
		cmd.Stderr = bound.Stderr
	}
	return cmd, nil
}

// ToolCommand builds the invocation of a build tool such as llvm-reduce.
func (t *Toolchain) ToolCommand(name string, args []string, opts Options) (*connectors.Command, error) {
	bin, err := t.Resolve(name)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = TriageTimeout
	}
	cmd := &connectors.Command{
		Name:    bin,
		Args:    append([]string(nil), args...),
		Dir:     opts.Dir,
		Env:     []string{"PATH=" + t.searchPath()},
		Timeout: timeout,
	}

	if opts.Stable && t.disableASLR {
		setarch, err := exec.LookPath("setarch")
		if err != nil {
			return nil, fmt.Errorf("%w: setarch: %v", ErrUnresolvable, err)
		}
		cmd.Args = append([]string{t.arch, "-R", bin}, cmd.Args...)
		cmd.Name = setarch
	}
	return cmd, nil
}

// RunDirective executes d with the placeholder bound to subst.
func (t *Toolchain) RunDirective(ctx context.Context, d *directive.Directive, subst string, opts Options) (*connectors.Outcome, error) {
	cmd, err := t.Command(d, subst, opts)
	if err != nil {
		return nil, err
	}
	return t.conn.Execute(ctx, cmd)
}

// RunTool executes a build tool.
func (t *Toolchain) RunTool(ctx context.Context, name string, args []string, opts Options) (*connectors.Outcome, error) {
	cmd, err := t.ToolCommand(name, args, opts)
	if err != nil {
		return nil, err
	}
	return t.conn.Execute(ctx, cmd)
}

// RunTest extracts the directive of the test at path and runs it on the file
// itself. A malformed test yields an error wrapping directive.ErrNoDirective.
func (t *Toolchain) RunTest(ctx context.Context, path string, opts Options) (*connectors.Outcome, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	d, err := directive.Extract(abs)
	if err != nil {
		return nil, err
	}
	return t.RunDirective(ctx, d, abs, opts)
}

func (t *Toolchain) searchPath() string {
	return t.build.BinDir() + string(os.PathListSeparator) + os.Getenv("PATH")
}

// machine returns what `uname -m` prints.
func machine() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err == nil {
		if m := unix.ByteSliceToString(u.Machine[:]); m != "" {
			return m
		}
	}
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}
