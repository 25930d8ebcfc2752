package reduce

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fentz26/crashcorpus/internal/connectors"
	"github.com/fentz26/crashcorpus/internal/corpus"
	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// tool simulates one external binary. A nil tool exits 0.
type tool func(t *testing.T, cmd *connectors.Command) *connectors.Outcome

// fakeConnector dispatches commands to simulated tools by binary name.
type fakeConnector struct {
	t     *testing.T
	tools map[string]tool
	calls []*connectors.Command
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) Execute(ctx context.Context, cmd *connectors.Command) (*connectors.Outcome, error) {
	f.calls = append(f.calls, cmd)
	fn, ok := f.tools[filepath.Base(cmd.Name)]
	if !ok {
		return &connectors.Outcome{ExitCode: 127, Stderr: []byte("not simulated")}, nil
	}
	if fn == nil {
		return &connectors.Outcome{}, nil
	}
	return fn(f.t, cmd), nil
}

func (f *fakeConnector) callsTo(name string) []*connectors.Command {
	var out []*connectors.Command
	for _, c := range f.calls {
		if filepath.Base(c.Name) == name {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	env  *Env
	conn *fakeConnector
	root string
}

func newFixture(t *testing.T, tools map[string]tool) *fixture {
	t.Helper()
	buildDir := t.TempDir()
	bin := filepath.Join(buildDir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0755))
	for name := range tools {
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0755))
	}

	root := t.TempDir()
	store, err := corpus.Open(root)
	require.NoError(t, err)

	conn := &fakeConnector{t: t, tools: tools}
	return &fixture{
		env: &Env{
			Toolchain:  toolchain.New(toolchain.Build{Dir: buildDir}, conn, false),
			Corpus:     store,
			Logger:     zaptest.NewLogger(t),
			Timeouts:   DefaultTimeouts(),
			ScratchDir: t.TempDir(),
		},
		conn: conn,
		root: root,
	}
}

// addTest writes a test into the corpus root and parses its directive.
func (f *fixture) addTest(t *testing.T, name, content string) (*models.TestCase, *directive.Directive) {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	tc, err := models.NewTestCase(path)
	require.NoError(t, err)
	d, err := directive.Extract(path)
	require.NoError(t, err)
	return tc, d
}

func (f *fixture) records(t *testing.T) []models.ProvenanceRecord {
	t.Helper()
	records, err := f.env.Corpus.ReadLog()
	require.NoError(t, err)
	return records
}

// input returns the file a simulated compiler reads: its stdin, or else
// the last non-flag argument.
func input(cmd *connectors.Command) string {
	if cmd.Stdin != "" {
		return cmd.Stdin
	}
	for i := len(cmd.Args) - 1; i >= 0; i-- {
		if !strings.HasPrefix(cmd.Args[i], "-") {
			return cmd.Args[i]
		}
	}
	return ""
}

// argAfter returns the argument following flag.
func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func inDir(cmd *connectors.Command, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cmd.Dir, name)
}

func crash() *connectors.Outcome {
	return &connectors.Outcome{ExitCode: 134, Stderr: []byte("Assertion failed")}
}

func clean() *connectors.Outcome {
	return &connectors.Outcome{}
}

// printer simulates `opt -S in -o out` by copying in to out.
func printer(t *testing.T, cmd *connectors.Command) *connectors.Outcome {
	out := argAfter(cmd.Args, "-o")
	if out == "" {
		return clean()
	}
	src := input(&connectors.Command{Stdin: cmd.Stdin, Args: cmd.Args[:len(cmd.Args)-2]})
	data, err := os.ReadFile(inDir(cmd, src))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(inDir(cmd, out), data, 0644))
	return clean()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
