// Package knowledge implements the semantic retrieval index backing
// first-aid enrichment. Knowledge entries are embedded at index time;
// queries are embedded with the same engine and ranked by cosine
// similarity against every stored pattern.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kynelabs/aidline/internal/embedding"
	"github.com/kynelabs/aidline/internal/models"
	"github.com/kynelabs/aidline/internal/store"
)

// DefaultCacheSize bounds the query-embedding LRU cache.
const DefaultCacheSize = 256

// Searcher is the retrieval contract consumed by the conversation flow.
type Searcher interface {
	Search(ctx context.Context, query string) (models.RetrievalResult, error)
}

// Index is an in-process nearest-neighbor index over knowledge entries,
// persisted through a store.Store so restarts skip re-embedding.
type Index struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	st       store.Store
	entries  []store.Entry
	meta     store.IndexMeta

	minScore float64
	cache    *embedCache
}

// Option configures an Index.
type Option func(*Index)

// WithMinScore sets the confidence floor below which the nearest
// neighbor is reported as a Miss. Zero keeps every nearest neighbor.
func WithMinScore(score float64) Option {
	return func(idx *Index) { idx.minScore = score }
}

// WithCacheSize overrides the query-embedding cache capacity.
// Zero disables the cache.
func WithCacheSize(size int) Option {
	return func(idx *Index) { idx.cache = newEmbedCache(size) }
}

// NewIndex creates an index bound to one embedding engine, loading any
// entries the store persisted from a previous run. Persisted entries
// built with a different engine are discarded rather than served, since
// cross-engine similarity scores are meaningless.
func NewIndex(embedder embedding.Embedder, st store.Store, opts ...Option) (*Index, error) {
	idx := &Index{
		embedder: embedder,
		st:       st,
		cache:    newEmbedCache(DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(idx)
	}

	entries, meta, err := st.LoadEntries()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted index: %w", err)
	}
	if len(entries) > 0 {
		if meta.Engine != embedder.Name() {
			slog.Warn("knowledge.NewIndex: persisted index built with different embedding engine, discarding",
				"persisted", meta.Engine, "configured", embedder.Name())
		} else {
			idx.entries = entries
			idx.meta = meta
			slog.Info("knowledge.NewIndex: persisted index loaded", "entries", len(entries), "engine", meta.Engine)
		}
	}
	return idx, nil
}

// LoadIntentsFile parses a knowledge base JSON asset of the shape
// {"root": {"intents": [{tag, patterns, responses}]}}.
func LoadIntentsFile(path string) ([]models.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read intents file: %w", err)
	}
	var file models.IntentsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse intents file: %w", err)
	}
	if len(file.Root.Intents) == 0 {
		return nil, fmt.Errorf("intents file %s contains no intents", path)
	}
	return file.Root.Intents, nil
}

// Reindex rebuilds the full index from intents: every pattern is
// embedded and stored with its tag and the tag's first canned response.
// The swap is atomic; concurrent searches see either the old or the new
// index, never a mix. The query cache is flushed afterward.
func (idx *Index) Reindex(ctx context.Context, intents []models.Intent) error {
	var texts []string
	type pending struct {
		tag      string
		pattern  string
		response string
	}
	var rows []pending

	for _, intent := range intents {
		if err := intent.Validate(); err != nil {
			return fmt.Errorf("invalid intent: %w", err)
		}
		for _, pattern := range intent.Patterns {
			texts = append(texts, pattern)
			rows = append(rows, pending{tag: intent.Tag, pattern: pattern, response: intent.Responses[0]})
		}
	}

	slog.Info("knowledge.Reindex: embedding knowledge base", "intents", len(intents), "patterns", len(texts), "engine", idx.embedder.Name())
	vecs, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed knowledge base: %w", err)
	}
	if len(vecs) != len(rows) {
		return fmt.Errorf("embedding count mismatch: want %d, got %d", len(rows), len(vecs))
	}

	entries := make([]store.Entry, len(rows))
	for i, row := range rows {
		entries[i] = store.Entry{Tag: row.tag, Pattern: row.pattern, Response: row.response, Vector: vecs[i]}
	}
	// Record the measured vector length, not the embedder's declared
	// size; some backends only know the default model's dimensions.
	dims := idx.embedder.Dimensions()
	if len(vecs) > 0 {
		dims = len(vecs[0])
	}
	meta := store.IndexMeta{
		Engine:     idx.embedder.Name(),
		Dimensions: dims,
		IndexedAt:  time.Now(),
	}

	if err := idx.st.ReplaceEntries(entries, meta); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.meta = meta
	idx.mu.Unlock()
	idx.cache.purge()

	slog.Info("knowledge.Reindex: index rebuilt", "entries", len(entries))
	return nil
}

// Search embeds the query and returns the best cosine match, or a Miss
// when the index is empty, the query cannot be embedded, or the best
// score falls below the configured floor. Embedding failures return the
// Miss alongside the error so callers can degrade without aborting.
func (idx *Index) Search(ctx context.Context, query string) (models.RetrievalResult, error) {
	idx.mu.RLock()
	entries := idx.entries
	idx.mu.RUnlock()

	if len(entries) == 0 {
		slog.Debug("knowledge.Search: index empty", "query", query)
		return models.RetrievalResult{}, nil
	}

	vec, ok := idx.cache.get(query)
	if !ok {
		var err error
		vec, err = idx.embedder.Embed(ctx, query)
		if err != nil {
			slog.Error("knowledge.Search: failed to embed query", "error", err, "query", query)
			return models.RetrievalResult{}, fmt.Errorf("failed to embed query: %w", err)
		}
		idx.cache.add(query, vec)
	}

	best := models.RetrievalResult{Score: -1}
	for _, entry := range entries {
		score, err := embedding.CosineSimilarity(vec, entry.Vector)
		if err != nil {
			// Dimension mismatch within one index build should be impossible.
			slog.Warn("knowledge.Search: skipping entry with mismatched vector", "tag", entry.Tag, "error", err)
			continue
		}
		if score > best.Score {
			best = models.RetrievalResult{Tag: entry.Tag, Response: entry.Response, Score: score, Found: true}
		}
	}

	if !best.Found || best.Score < idx.minScore {
		slog.Debug("knowledge.Search: no match above floor", "query", query, "bestScore", best.Score, "minScore", idx.minScore)
		return models.RetrievalResult{}, nil
	}

	slog.Debug("knowledge.Search: match found", "query", query, "tag", best.Tag, "score", best.Score)
	return best, nil
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Meta returns the metadata of the current index build.
func (idx *Index) Meta() store.IndexMeta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta
}
