package audit

import (
	"path/filepath"
	"testing"

	"github.com/fentz26/crashcorpus/internal/store"
)

func TestRecord(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	w := NewPDRWriter(s)
	entry, err := w.Record(ActionStoreAdd, map[string]string{"tag": "creduce-crash-unconstrained"}, "added", "/corpus/a.c", "/corpus/b.c")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if entry.InputsHash != hashInputs(map[string]string{"tag": "creduce-crash-unconstrained"}) {
		t.Error("Inputs hash should be deterministic")
	}

	entries, err := s.ListPDR("/corpus/a.c", 0)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != ActionStoreAdd {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}

func TestNilWriterDiscards(t *testing.T) {
	var w *PDRWriter
	entry, err := w.Record(ActionTriageSkip, nil, "skipped", "/x.ll", "")
	if err != nil || entry != nil {
		t.Errorf("nil writer should discard, got %v, %v", entry, err)
	}
}

func TestHashInputsUnmarshalable(t *testing.T) {
	if got := hashInputs(make(chan int)); got != "hash_error" {
		t.Errorf("hashInputs(chan) = %q, want hash_error", got)
	}
}
