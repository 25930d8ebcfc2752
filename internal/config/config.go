// Package config loads the corpus manager configuration.
//
// The file is conventionally config.json; it is decoded with a YAML parser,
// so YAML files are accepted as well.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid indicates a missing or unusable configuration value. It is an
// operator error and aborts the run.
var ErrInvalid = errors.New("invalid config")

// Language classes used as keys of Config.Strategies.
const (
	ClassIR  = "ir"
	ClassC   = "c"
	ClassAsm = "asm"
)

// Timeouts bound the different kinds of runs.
type Timeouts struct {
	Triage    time.Duration `yaml:"triage"`
	Tool      time.Duration `yaml:"tool"`
	Normalize time.Duration `yaml:"normalize"`
}

// PassIsolation configures the opt pass isolation reducer.
type PassIsolation struct {
	Driver string   `yaml:"driver"`
	Passes []string `yaml:"passes"`
	// Substitutes are whitespace-separated flag groups.
	Substitutes []string `yaml:"substitutes"`
}

// Config holds the corpus manager's runtime configuration.
type Config struct {
	BuildDir  string `yaml:"LLVM_BUILD_DIR"`
	Revision  string `yaml:"LLVM_BUILD_REVISION"`
	SourceDir string `yaml:"LLVM_SOURCE_DIR"`
	CorpusDir string `yaml:"CORPUS_DIR"`

	MaxRescans       int                 `yaml:"max_rescans"`
	Timeouts         Timeouts            `yaml:"timeouts"`
	ExcludePattern   string              `yaml:"exclude_pattern"`
	DisableASLR      *bool               `yaml:"disable_aslr"`
	CreduceCrashCode int                 `yaml:"creduce_crash_code"`
	Strategies       map[string][]string `yaml:"strategies"`
	PassIsolation    PassIsolation       `yaml:"pass_isolation"`
	DBPath           string              `yaml:"db_path"`
}

// Load reads a config file, applies defaults, resolves paths and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, completes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPasses is the transform pass set of opt pass isolation.
var DefaultPasses = []string{
	"-simplify-cfg", "-sroa", "-early-cse", "-instcombine", "-instsimplify",
	"-gvn-hoist", "-inline", "-loop-vectorize", "-memcpyopt", "-dse", "-gvn",
	"-jump-threading", "-consthoist", "-indvars",
}

// DefaultSubstitutes are the cheap stand-ins tried for the selected pass.
var DefaultSubstitutes = []string{
	"-instsimplify",
	"-enable-new-pm=0 -analyze -domtree",
	"-enable-new-pm=0 -analyze -loops",
	"-enable-new-pm=0 -analyze -scalar-evolution",
	"-enable-new-pm=0 -analyze -memoryssa",
}

func (c *Config) applyDefaults() {
	if c.MaxRescans == 0 {
		c.MaxRescans = 50
	}
	if c.Timeouts.Triage == 0 {
		c.Timeouts.Triage = 30 * time.Second
	}
	if c.Timeouts.Tool == 0 {
		c.Timeouts.Tool = 5 * time.Minute
	}
	if c.Timeouts.Normalize == 0 {
		c.Timeouts.Normalize = 20 * time.Second
	}
	if c.ExcludePattern == "" {
		c.ExcludePattern = " type {"
	}
	if c.DisableASLR == nil {
		on := true
		c.DisableASLR = &on
	}
	if c.CreduceCrashCode == 0 {
		c.CreduceCrashCode = 134
	}
	if c.Strategies == nil {
		c.Strategies = map[string][]string{
			ClassIR: {"bugpoint", "llvm-reduce", "opt-analysis-isolate"},
			ClassC:  {"creduce"},
		}
	}
	if c.PassIsolation.Driver == "" {
		c.PassIsolation.Driver = "opt"
	}
	if len(c.PassIsolation.Passes) == 0 {
		c.PassIsolation.Passes = append([]string(nil), DefaultPasses...)
	}
	if len(c.PassIsolation.Substitutes) == 0 {
		c.PassIsolation.Substitutes = append([]string(nil), DefaultSubstitutes...)
	}
	if c.DBPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DBPath = filepath.Join(home, ".crashcorpus", "crashcorpus.db")
		}
	}
}

func (c *Config) validate() error {
	var problems []string

	required := []struct {
		key   string
		value *string
		dir   bool
	}{
		{"LLVM_BUILD_DIR", &c.BuildDir, true},
		{"LLVM_BUILD_REVISION", &c.Revision, false},
		{"LLVM_SOURCE_DIR", &c.SourceDir, true},
		{"CORPUS_DIR", &c.CorpusDir, true},
	}
	for _, r := range required {
		if strings.TrimSpace(*r.value) == "" {
			problems = append(problems, r.key+" is required")
			continue
		}
		if !r.dir {
			continue
		}
		abs, err := ExpandPath(*r.value)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", r.key, err))
			continue
		}
		*r.value = abs
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			problems = append(problems, fmt.Sprintf("%s: %s is not a directory", r.key, abs))
		}
	}

	if c.MaxRescans < 0 {
		problems = append(problems, "max_rescans must not be negative")
	}
	if c.Timeouts.Triage < 0 || c.Timeouts.Tool < 0 || c.Timeouts.Normalize < 0 {
		problems = append(problems, "timeouts must be positive")
	}
	for class := range c.Strategies {
		switch class {
		case ClassIR, ClassC, ClassAsm:
		default:
			problems = append(problems, fmt.Sprintf("strategies: unknown language class %q", class))
		}
	}
	if c.DBPath == "" {
		problems = append(problems, "db_path is required when no home directory is available")
	} else if abs, err := ExpandPath(c.DBPath); err == nil {
		c.DBPath = abs
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ASLRDisabled reports whether runs are wrapped to disable randomization.
func (c *Config) ASLRDisabled() bool {
	return c.DisableASLR == nil || *c.DisableASLR
}

// SubstituteFlags splits the configured substitutes into flag groups.
func (c *Config) SubstituteFlags() [][]string {
	out := make([][]string, 0, len(c.PassIsolation.Substitutes))
	for _, s := range c.PassIsolation.Substitutes {
		if fields := strings.Fields(s); len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out
}

// ExpandPath expands a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
