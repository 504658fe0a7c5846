// Package embedding provides vector embedding generation for the
// knowledge base. Two backends are supported: the OpenAI embeddings API
// and a local Ollama server. The index and its queries must use the
// same backend; mixing engines silently corrupts similarity ranking, so
// the knowledge package checks the engine name recorded at index time.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced embeddings.
	Dimensions() int

	// Name identifies the engine and model for index compatibility checks.
	Name() string
}

// Config selects and configures an embedding backend.
type Config struct {
	// Provider: "openai" or "ollama".
	Provider string

	// OpenAI configuration.
	OpenAIAPIKey string
	OpenAIModel  string

	// Ollama configuration.
	OllamaEndpoint string
	OllamaModel    string
}

// NewEmbedder creates an embedding engine from configuration.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case "ollama":
		return NewOllamaEmbedder(cfg.OllamaEndpoint, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q (use 'openai' or 'ollama')", cfg.Provider)
	}
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns an error on dimension mismatch; zero for zero-magnitude input.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
