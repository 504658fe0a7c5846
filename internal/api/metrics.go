package api

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kynelabs/aidline/internal/genai"
	"github.com/kynelabs/aidline/internal/knowledge"
	"github.com/kynelabs/aidline/internal/models"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidline_turns_total",
		Help: "Conversation turns processed, by transport.",
	}, []string{"transport"})

	gatewayFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidline_gateway_failures_total",
		Help: "LLM gateway calls that returned an error.",
	})

	retrievalResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aidline_retrieval_results_total",
		Help: "Knowledge base lookups, by outcome (hit, miss, error).",
	}, []string{"outcome"})

	reindexTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidline_reindex_total",
		Help: "Successful knowledge index rebuilds.",
	})

	wsConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidline_ws_connections_total",
		Help: "WebSocket connections accepted.",
	})
)

// instrumentedGateway counts gateway failures around the wrapped client.
type instrumentedGateway struct {
	inner genai.ClientInterface
}

// InstrumentGateway wraps an LLM client so its failures show up in
// /metrics.
func InstrumentGateway(inner genai.ClientInterface) genai.ClientInterface {
	return &instrumentedGateway{inner: inner}
}

func (g *instrumentedGateway) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	out, err := g.inner.GenerateWithMessages(ctx, messages)
	if err != nil {
		gatewayFailuresTotal.Inc()
	}
	return out, err
}

// instrumentedSearcher counts retrieval outcomes around the wrapped
// searcher.
type instrumentedSearcher struct {
	inner knowledge.Searcher
}

// InstrumentSearcher wraps a retrieval index so hit/miss rates show up
// in /metrics.
func InstrumentSearcher(inner knowledge.Searcher) knowledge.Searcher {
	return &instrumentedSearcher{inner: inner}
}

func (s *instrumentedSearcher) Search(ctx context.Context, query string) (models.RetrievalResult, error) {
	result, err := s.inner.Search(ctx, query)
	switch {
	case err != nil:
		retrievalResultsTotal.WithLabelValues("error").Inc()
	case result.Found:
		retrievalResultsTotal.WithLabelValues("hit").Inc()
	default:
		retrievalResultsTotal.WithLabelValues("miss").Inc()
	}
	return result, err
}
