package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		sim, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, sim, 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		sim, err := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, sim, 1e-9)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
		assert.Error(t, err)
	})

	t.Run("zero magnitude", func(t *testing.T) {
		sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2})
		require.NoError(t, err)
		assert.Zero(t, sim)
	})
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(Config{Provider: "qdrant"})
	assert.Error(t, err)
}

func TestNewEmbedder_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewEmbedder(Config{Provider: "openai"})
	assert.Error(t, err)
}

func TestOpenAIEmbedderDimensionsFollowModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"", 1536},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tt := range tests {
		e, err := NewOpenAIEmbedder("test-key", tt.model)
		require.NoError(t, err)
		assert.Equal(t, tt.want, e.Dimensions(), "model %q", tt.model)
	}
}

func TestOllamaEmbedderDimensionsFollowModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"", 384},
		{"all-minilm", 384},
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"some-future-model", 384},
	}
	for _, tt := range tests {
		e, err := NewOllamaEmbedder("http://localhost:11434", tt.model)
		require.NoError(t, err)
		assert.Equal(t, tt.want, e.Dimensions(), "model %q", tt.model)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "all-minilm")
	require.NoError(t, err)
	assert.Equal(t, "ollama/all-minilm", e.Name())

	vec, err := e.Embed(context.Background(), "help")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "missing")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "help")
	assert.Error(t, err)
}
