package store

import (
	"path/filepath"
	"testing"
	"time"
)

func sampleEntries() []Entry {
	return []Entry{
		{Tag: "burn", Pattern: "I burned my hand", Response: "Cool under water", Vector: []float32{0.1, 0.2, 0.3}},
		{Tag: "choking", Pattern: "someone is choking", Response: "Perform the Heimlich maneuver", Vector: []float32{0.9, 0.1, 0.0}},
	}
}

func TestInMemoryStore_RoundTrip(t *testing.T) {
	s := NewInMemoryStore()

	entries, meta, err := s.LoadEntries()
	if err != nil {
		t.Fatalf("LoadEntries on empty store: %v", err)
	}
	if len(entries) != 0 || meta.Engine != "" {
		t.Fatalf("expected empty store, got %d entries, meta %+v", len(entries), meta)
	}

	want := sampleEntries()
	wantMeta := IndexMeta{Engine: "openai/text-embedding-3-small", Dimensions: 3, IndexedAt: time.Now()}
	if err := s.ReplaceEntries(want, wantMeta); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}

	got, gotMeta, err := s.LoadEntries()
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	if gotMeta.Engine != wantMeta.Engine || gotMeta.Dimensions != 3 {
		t.Errorf("unexpected meta %+v", gotMeta)
	}

	// Mutating the returned slice must not corrupt the store.
	got[0].Tag = "mutated"
	again, _, _ := s.LoadEntries()
	if again[0].Tag != "burn" {
		t.Error("LoadEntries aliases internal state")
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "kb.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	entries, meta, err := s.LoadEntries()
	if err != nil {
		t.Fatalf("LoadEntries on fresh db: %v", err)
	}
	if len(entries) != 0 || meta.Engine != "" {
		t.Fatalf("expected empty db, got %d entries", len(entries))
	}

	want := sampleEntries()
	if err := s.ReplaceEntries(want, IndexMeta{Engine: "ollama/all-minilm", Dimensions: 3, IndexedAt: time.Now()}); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}

	got, gotMeta, err := s.LoadEntries()
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Tag != "burn" || got[0].Response != "Cool under water" {
		t.Errorf("unexpected first entry %+v", got[0])
	}
	for i := range want {
		if len(got[i].Vector) != len(want[i].Vector) {
			t.Fatalf("entry %d vector length %d, want %d", i, len(got[i].Vector), len(want[i].Vector))
		}
		for j := range want[i].Vector {
			if got[i].Vector[j] != want[i].Vector[j] {
				t.Errorf("entry %d vector[%d] = %f, want %f", i, j, got[i].Vector[j], want[i].Vector[j])
			}
		}
	}
	if gotMeta.Engine != "ollama/all-minilm" {
		t.Errorf("unexpected meta engine %q", gotMeta.Engine)
	}

	// A second replace fully supersedes the first.
	if err := s.ReplaceEntries(want[:1], IndexMeta{Engine: "ollama/all-minilm", Dimensions: 3, IndexedAt: time.Now()}); err != nil {
		t.Fatalf("second ReplaceEntries: %v", err)
	}
	got, _, err = s.LoadEntries()
	if err != nil {
		t.Fatalf("LoadEntries after replace: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 entry after replace, got %d", len(got))
	}
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0.0, -1.5, 3.25, 1e-7}
	decoded := decodeVector(encodeVector(vec))
	if len(decoded) != len(vec) {
		t.Fatalf("length mismatch: %d != %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("index %d: %g != %g", i, decoded[i], vec[i])
		}
	}
}
