// Package observe forms observation records: compact signatures of a test
// run that let repeated runs on the same build and machine be compared.
package observe

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/crashcorpus/internal/connectors"
	"github.com/fentz26/crashcorpus/internal/corpus"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/store"
	"github.com/fentz26/crashcorpus/internal/toolchain"
)

const (
	procVersion = "/proc/version"
	procCPUInfo = "/proc/cpuinfo"
)

// OutputSig hashes an outcome: exit code as 4 little-endian bytes, then
// stdout, then stderr.
func OutputSig(o *connectors.Outcome) string {
	h := sha1.New()
	var code [4]byte
	binary.LittleEndian.PutUint32(code[:], uint32(int32(o.ExitCode)))
	h.Write(code[:])
	h.Write(o.Stdout)
	h.Write(o.Stderr)
	return hex.EncodeToString(h.Sum(nil))
}

// MachineSig hashes the kernel version and CPU description, ignoring the
// fields that drift at runtime.
func MachineSig() (string, error) {
	return machineSigFrom(procVersion, procCPUInfo)
}

func machineSigFrom(versionPath, cpuinfoPath string) (string, error) {
	h := sha1.New()
	if err := appendFile(h, versionPath); err != nil {
		return "", err
	}

	f, err := os.Open(cpuinfoPath)
	if err != nil {
		return "", fmt.Errorf("open cpuinfo: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" && !strings.HasPrefix(line, "cpu MHz") && !strings.HasPrefix(line, "bogomips") {
			h.Write([]byte(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read cpuinfo: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildSig hashes the build's CMake cache and, when present on PATH, the
// alive-tv binary that some directives shell out to.
func BuildSig(build toolchain.Build) (string, error) {
	h := sha1.New()
	if err := appendFile(h, filepath.Join(build.Dir, "CMakeCache.txt")); err != nil {
		return "", err
	}
	if alive, err := exec.LookPath("alive-tv"); err == nil {
		if err := appendFile(h, alive); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func appendFile(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return nil
}

// Recorder forms observations for one revision, build and machine, and
// persists them when a store is attached.
type Recorder struct {
	revision   string
	buildSig   string
	machineSig string
	store      *store.Store
}

// NewRecorder computes the build and machine signatures once.
func NewRecorder(revision string, build toolchain.Build, s *store.Store) (*Recorder, error) {
	buildSig, err := BuildSig(build)
	if err != nil {
		return nil, fmt.Errorf("build signature: %w", err)
	}
	machineSig, err := MachineSig()
	if err != nil {
		return nil, fmt.Errorf("machine signature: %w", err)
	}
	return &Recorder{revision: revision, buildSig: buildSig, machineSig: machineSig, store: s}, nil
}

// Form builds the observation for one run of test.
func (r *Recorder) Form(test string, o *connectors.Outcome) (*models.Observation, error) {
	testSig, err := corpus.HashFile(test)
	if err != nil {
		return nil, fmt.Errorf("test signature: %w", err)
	}
	return &models.Observation{
		Revision:   r.revision,
		TestSig:    testSig,
		OutputSig:  OutputSig(o),
		BuildSig:   r.buildSig,
		MachineSig: r.machineSig,
		Count:      1,
		TestPath:   test,
		ExitCode:   o.ExitCode,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// Observe forms and stores the observation for one run of test.
func (r *Recorder) Observe(test string, o *connectors.Outcome) (*models.Observation, error) {
	obs, err := r.Form(test, o)
	if err != nil {
		return nil, err
	}
	return r.Record(obs)
}

// Record persists obs, adding its count to any identical stored record.
func (r *Recorder) Record(obs *models.Observation) (*models.Observation, error) {
	if r.store == nil {
		return obs, nil
	}
	return r.store.RecordObservation(obs)
}

// Format renders an observation as "+count, revision, test, output, build,
// machine".
func Format(obs *models.Observation) string {
	return strings.Join([]string{
		fmt.Sprintf("+%d", obs.Count),
		obs.Revision,
		obs.TestSig,
		obs.OutputSig,
		obs.BuildSig,
		obs.MachineSig,
	}, ", ")
}

// Tally groups observations by identity, preserving first-seen order.
func Tally(observations []*models.Observation) []*models.Observation {
	index := make(map[[5]string]*models.Observation)
	var out []*models.Observation
	for _, obs := range observations {
		if seen, ok := index[obs.Key()]; ok {
			seen.Count += obs.Count
			continue
		}
		cp := *obs
		index[obs.Key()] = &cp
		out = append(out, &cp)
	}
	return out
}
