// Package models defines the core domain types for crashcorpus.
package models

import (
	"path/filepath"
	"time"
)

// Language is the language tag derived from a test file's extension.
type Language string

const (
	LanguageIR      Language = "ir"
	LanguageC       Language = "c"
	LanguageAsm     Language = "asm"
	LanguageUnknown Language = "unknown"
)

// languageByExt is the fixed extension mapping.
var languageByExt = map[string]Language{
	".ll":  LanguageIR,
	".c":   LanguageC,
	".cc":  LanguageC,
	".cpp": LanguageC,
	".cxx": LanguageC,
	".s":   LanguageAsm,
}

// LanguageOf returns the language tag for a file path.
func LanguageOf(path string) Language {
	if lang, ok := languageByExt[filepath.Ext(path)]; ok {
		return lang
	}
	return LanguageUnknown
}

// TestCase is a self-describing test file.
type TestCase struct {
	Path     string   `json:"path"`
	Language Language `json:"language"`
}

// NewTestCase creates a TestCase for path, made absolute.
func NewTestCase(path string) (*TestCase, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &TestCase{Path: abs, Language: LanguageOf(abs)}, nil
}

// Ext returns the file extension including the dot.
func (t *TestCase) Ext() string {
	return filepath.Ext(t.Path)
}

// ProvenanceRecord links a strategy, its source test and the stored result.
// Paths are relative to the corpus root.
type ProvenanceRecord struct {
	Tag    string `json:"tag"`
	Source string `json:"source"`
	Result string `json:"result"`
}

// Observation summarizes one execution of a test on a build and machine.
type Observation struct {
	ID         string    `json:"id"`
	Revision   string    `json:"revision"`
	TestSig    string    `json:"test_sig"`
	OutputSig  string    `json:"output_sig"`
	BuildSig   string    `json:"build_sig"`
	MachineSig string    `json:"machine_sig"`
	Count      int       `json:"count"`
	TestPath   string    `json:"test_path,omitempty"`
	ExitCode   int       `json:"exit_code"`
	ObservedAt time.Time `json:"observed_at"`
}

// Key returns the fields that identify an observation independent of count.
func (o *Observation) Key() [5]string {
	return [5]string{o.Revision, o.TestSig, o.OutputSig, o.BuildSig, o.MachineSig}
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TestPath   string    `json:"test_path,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
