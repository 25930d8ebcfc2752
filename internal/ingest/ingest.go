// Package ingest turns fuzzer artifacts into self-describing corpus tests.
//
// OSS-Fuzz names opt fuzzer reproducers
// "<prefix>-<pass_name>-<id>"; the pass becomes the RUN line of the test,
// which is marked as an expected failure on assertion-enabled builds.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/crashcorpus/internal/normalize"
	"github.com/fentz26/crashcorpus/internal/toolchain"
	"go.uber.org/zap"
)

// Subdir is the corpus subdirectory holding ingested tests.
const Subdir = "oss_fuzz"

// ErrBadName indicates an artifact name that does not encode a pass and id.
var ErrBadName = errors.New("unrecognized artifact name")

// Artifact is a parsed fuzzer reproducer name.
type Artifact struct {
	Path string
	Pass string
	ID   string
}

// ParseName extracts the pass and id from an artifact path.
func ParseName(path string) (*Artifact, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".bc")
	chunks := strings.Split(base, "-")
	if len(chunks) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrBadName, base)
	}
	id := chunks[len(chunks)-1]
	pass := strings.ReplaceAll(chunks[len(chunks)-2], "_", "-")
	if id == "" || pass == "" {
		return nil, fmt.Errorf("%w: %s", ErrBadName, base)
	}
	return &Artifact{Path: path, Pass: pass, ID: id}, nil
}

// Header returns the comment block written at the top of an ingested test.
func (a *Artifact) Header() []string {
	return []string{
		"; RUN: opt -" + a.Pass + " -S < %s\n",
		"; XFAIL: *\n",
		"; REQUIRES: asserts\n",
	}
}

// Ingester writes artifacts into a corpus directory.
type Ingester struct {
	toolchain *toolchain.Toolchain
	root      string
	timeout   time.Duration
	log       *zap.Logger
}

// New creates an Ingester writing below root.
func New(tc *toolchain.Toolchain, root string, timeout time.Duration, log *zap.Logger) *Ingester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingester{toolchain: tc, root: root, timeout: timeout, log: log}
}

// Ingest reprints the bitcode artifact as IR into <root>/oss_fuzz/<id>.ll
// and gives it its header. It returns the test path.
func (i *Ingester) Ingest(ctx context.Context, bcfile string) (string, error) {
	art, err := ParseName(bcfile)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(bcfile)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(i.root, Subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	target := filepath.Join(dir, art.ID+".ll")
	if _, err := os.Stat(target); err == nil {
		i.log.Warn("Test already ingested, overwriting", zap.String("test", target))
	}

	out, err := i.toolchain.RunTool(ctx, "opt", []string{"-S", abs, "-o", target}, toolchain.Options{Timeout: i.timeout})
	if err != nil {
		return "", err
	}
	if !out.Succeeded() {
		return "", fmt.Errorf("reprint %s: exit %d: %s", bcfile, out.ExitCode, strings.TrimSpace(string(out.Stderr)))
	}
	if err := normalize.Rewrite(art.Header(), target); err != nil {
		return "", err
	}
	i.log.Info("Ingested artifact", zap.String("pass", art.Pass), zap.String("test", target))
	return target, nil
}
