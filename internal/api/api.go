// Package api provides the HTTP and WebSocket transport for Aidline.
//
// It exposes JSON endpoints for submitting conversation turns, inspecting
// session state, and rebuilding the knowledge index, plus a WebSocket
// endpoint that speaks the one-message-in one-message-out protocol.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kynelabs/aidline/internal/knowledge"
	"github.com/kynelabs/aidline/internal/models"
	"github.com/kynelabs/aidline/internal/session"
	"github.com/kynelabs/aidline/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// KnowledgeIndex is the slice of the retrieval index the transport
// needs: rebuilds and diagnostics, not search.
type KnowledgeIndex interface {
	Reindex(ctx context.Context, intents []models.Intent) error
	Len() int
	Meta() store.IndexMeta
}

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the listen address (e.g., ":8080").
	Addr string
	// StaticDir optionally serves a static page directory at /.
	StaticDir string
	// IntentsPath is the knowledge base file used by the reindex endpoint.
	IntentsPath string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// WithStaticDir serves files from dir at the root path.
func WithStaticDir(dir string) Option {
	return func(o *Opts) { o.StaticDir = dir }
}

// WithIntentsPath sets the knowledge base file for reindexing.
func WithIntentsPath(path string) Option {
	return func(o *Opts) { o.IntentsPath = path }
}

// Server wires the session registry and knowledge index to HTTP.
type Server struct {
	mgr  *session.Manager
	idx  KnowledgeIndex
	opts Opts
}

// NewServer creates the API server.
func NewServer(mgr *session.Manager, idx KnowledgeIndex, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{mgr: mgr, idx: idx, opts: o}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", s.postMessageHandler)
	mux.HandleFunc("GET /api/v1/sessions/{id}/state", s.sessionStateHandler)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.deleteSessionHandler)
	mux.HandleFunc("POST /api/v1/knowledge/reindex", s.reindexHandler)
	mux.HandleFunc("GET /ws", s.websocketHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticDir)))
	}
	return mux
}

// Run serves until ctx is canceled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// postMessageHandler handles POST /api/v1/sessions/{id}/messages
func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	slog.Debug("postMessageHandler invoked", "sessionID", sessionID)

	var req models.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("postMessageHandler invalid JSON", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("postMessageHandler validation failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	reply := s.mgr.Process(r.Context(), sessionID, req.Message)
	turnsTotal.WithLabelValues("http").Inc()

	writeJSONResponse(w, http.StatusOK, models.Success(models.MessageResult{
		SessionID: sessionID,
		Reply:     reply,
	}))
}

// sessionStateHandler handles GET /api/v1/sessions/{id}/state
func (s *Server) sessionStateHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	snap, err := s.mgr.Snapshot(sessionID)
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

// deleteSessionHandler handles DELETE /api/v1/sessions/{id}
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.mgr.Remove(sessionID); err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	slog.Info("deleteSessionHandler: session removed", "sessionID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session removed", nil))
}

// reindexHandler handles POST /api/v1/knowledge/reindex
func (s *Server) reindexHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("reindexHandler invoked", "intentsPath", s.opts.IntentsPath)

	intents, err := knowledge.LoadIntentsFile(s.opts.IntentsPath)
	if err != nil {
		slog.Error("reindexHandler: failed to load intents file", "error", err, "path", s.opts.IntentsPath)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load knowledge base file"))
		return
	}

	if err := s.idx.Reindex(r.Context(), intents); err != nil {
		slog.Error("reindexHandler: reindex failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to rebuild knowledge index"))
		return
	}
	reindexTotal.Inc()

	meta := s.idx.Meta()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Knowledge index rebuilt", map[string]any{
		"entries":    s.idx.Len(),
		"engine":     meta.Engine,
		"dimensions": meta.Dimensions,
		"indexed_at": meta.IndexedAt,
	}))
}

// healthHandler handles GET /healthz
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", map[string]any{
		"sessions":   s.mgr.Len(),
		"kb_entries": s.idx.Len(),
	}))
}
