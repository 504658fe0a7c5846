package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Output dimensionality by model. Unlisted models fall back to the
// text-embedding-3-small size; the index records the measured vector
// length at build time regardless.
var openAIModelDimensions = map[openai.EmbeddingModel]int{
	openai.EmbeddingModelTextEmbedding3Small: 1536,
	openai.EmbeddingModelTextEmbedding3Large: 3072,
	openai.EmbeddingModelTextEmbeddingAda002: 1536,
}

// embeddingService is the minimal seam over the OpenAI SDK used for mocking.
type embeddingService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIEmbedder generates embeddings using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	svc   embeddingService
	model openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder. The API key falls
// back to $OPENAI_API_KEY; the model defaults to text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	m := openai.EmbeddingModelTextEmbedding3Small
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("embedding.NewOpenAIEmbedder: embedder initialized", "model", m)
	return &OpenAIEmbedder{svc: &cli.Embeddings, model: m}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.svc.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		slog.Error("embedding.EmbedBatch: request failed", "error", err, "count", len(texts))
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if resp == nil || len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: want %d, got %d", len(texts), len(resp.Data))
	}

	vecs := make([][]float32, len(texts))
	for i, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		vecs[i] = vec
	}
	slog.Debug("embedding.EmbedBatch: embeddings generated", "count", len(vecs), "model", e.model)
	return vecs, nil
}

// Dimensions returns the dimensionality of produced embeddings.
func (e *OpenAIEmbedder) Dimensions() int {
	if d, ok := openAIModelDimensions[e.model]; ok {
		return d
	}
	return openAIModelDimensions[openai.EmbeddingModelTextEmbedding3Small]
}

// Name identifies the engine and model.
func (e *OpenAIEmbedder) Name() string { return "openai/" + string(e.model) }
