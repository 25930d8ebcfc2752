// Package audit provides PDR (Process Decision Record) writing for
// crashcorpus. Decision records explain why a test was skipped, why a
// strategy declined and what it added; the provenance log stays the
// authoritative record of progress.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fentz26/crashcorpus/internal/store"
)

// Decision actions.
const (
	ActionTriageSkip      = "triage.skip"
	ActionTriageFail      = "triage.fail"
	ActionStrategyDecline = "strategy.decline"
	ActionToolFailure     = "tool.failure"
	ActionStoreAdd        = "store.add"
	ActionStoreDuplicate  = "store.duplicate"
	ActionStoreReject     = "store.reject"
	ActionScanReject      = "scan.reject"
)

// PDRWriter writes Process Decision Records for audit trails. A nil writer
// discards records.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a decision about testPath.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, testPath, details string) (*models.PDREntry, error) {
	if w == nil || w.store == nil {
		return nil, nil
	}
	inputsHash := hashInputs(inputs)
	return w.store.WritePDR(action, inputsHash, outcome, testPath, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
