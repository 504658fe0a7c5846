// Package store provides persistence for the knowledge base index.
//
// It includes an in-memory store for tests and a SQLite-backed store so
// a restart does not re-embed the whole corpus.
package store

import (
	"sync"
	"time"
)

// Entry is one indexed knowledge base row: a pattern embedding plus the
// tag and instruction text it resolves to.
type Entry struct {
	Tag      string
	Pattern  string
	Response string
	Vector   []float32
}

// IndexMeta records how the current index was built. Queries against an
// index built with a different embedding engine must be refused.
type IndexMeta struct {
	Engine     string
	Dimensions int
	IndexedAt  time.Time
}

// Store persists index entries between process runs.
type Store interface {
	// ReplaceEntries atomically swaps the full entry set and metadata.
	ReplaceEntries(entries []Entry, meta IndexMeta) error
	// LoadEntries returns all entries and the metadata of the last build.
	// An empty store returns no entries and zero metadata, not an error.
	LoadEntries() ([]Entry, IndexMeta, error)
	// Close releases underlying resources.
	Close() error
}

// InMemoryStore is a simple in-memory Store used in tests and when no
// DSN is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	meta    IndexMeta
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// ReplaceEntries atomically swaps the full entry set and metadata.
func (s *InMemoryStore) ReplaceEntries(entries []Entry, meta IndexMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]Entry, len(entries))
	copy(s.entries, entries)
	s.meta = meta
	return nil
}

// LoadEntries returns all entries and the metadata of the last build.
func (s *InMemoryStore) LoadEntries() ([]Entry, IndexMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return entries, s.meta, nil
}

// Close releases underlying resources.
func (s *InMemoryStore) Close() error { return nil }
