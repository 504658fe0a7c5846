package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openai/openai-go"

	"github.com/kynelabs/aidline/internal/flow"
	"github.com/kynelabs/aidline/internal/models"
	"github.com/kynelabs/aidline/internal/session"
	"github.com/kynelabs/aidline/internal/store"
)

// cannedGateway answers every turn with a fixed structured reply.
type cannedGateway struct{}

func (cannedGateway) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return `{"response": "How can I help?", "new_state": "INITIAL"}`, nil
}

type nopSearcher struct{}

func (nopSearcher) Search(ctx context.Context, query string) (models.RetrievalResult, error) {
	return models.RetrievalResult{}, nil
}

// fakeIndex records reindex calls for the transport tests.
type fakeIndex struct {
	reindexed int
	failNext  bool
	entries   int
}

func (f *fakeIndex) Reindex(ctx context.Context, intents []models.Intent) error {
	if f.failNext {
		return context.DeadlineExceeded
	}
	f.reindexed++
	f.entries = len(intents)
	return nil
}

func (f *fakeIndex) Len() int { return f.entries }
func (f *fakeIndex) Meta() store.IndexMeta {
	return store.IndexMeta{Engine: "fake/v1", Dimensions: 3, IndexedAt: time.Now()}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *session.Manager, *fakeIndex) {
	t.Helper()
	renderer, err := flow.NewPromptRenderer("")
	if err != nil {
		t.Fatalf("NewPromptRenderer failed: %v", err)
	}
	mgr := session.NewManager(func() *flow.Receptionist {
		return flow.NewReceptionist(cannedGateway{}, nopSearcher{}, renderer)
	})
	idx := &fakeIndex{}
	return NewServer(mgr, idx, opts...), mgr, idx
}

func decodeEnvelope(t *testing.T, body string) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("failed to decode response envelope: %v (body: %s)", err, body)
	}
	return resp
}

func TestPostMessage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s_test/messages",
		strings.NewReader(`{"message": "hello"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec.Body.String())
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	if result["session_id"] != "s_test" {
		t.Errorf("expected session_id echoed, got %v", result["session_id"])
	}
	if result["reply"] != "How can I help?" {
		t.Errorf("unexpected reply: %v", result["reply"])
	}
}

func TestPostMessageInvalidJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s_test/messages",
		strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestPostMessageMissingField(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s_test/messages",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing message, got %d", rec.Code)
	}
}

func TestSessionState(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	// Unknown session first.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s_test/state", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}

	// One turn creates the session.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s_test/messages",
		strings.NewReader(`{"message": "hello"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("turn failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s_test/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec.Body.String())
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	if result["state"] != string(models.StateInitial) {
		t.Errorf("expected INITIAL state, got %v", result["state"])
	}
}

func TestDeleteSession(t *testing.T) {
	srv, mgr, _ := newTestServer(t)
	handler := srv.Handler()
	id := mgr.Create()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if mgr.Len() != 0 {
		t.Errorf("expected session removed, %d remain", mgr.Len())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestReindexHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")
	payload := `{"root":{"intents":[{"tag":"burn","patterns":["I burned my hand"],"responses":["Cool under water"]}]}}`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("failed to write intents file: %v", err)
	}

	srv, _, idx := newTestServer(t, WithIntentsPath(path))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/reindex", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if idx.reindexed != 1 {
		t.Errorf("expected one reindex call, got %d", idx.reindexed)
	}
}

func TestReindexHandlerMissingFile(t *testing.T) {
	srv, _, idx := newTestServer(t, WithIntentsPath(filepath.Join(t.TempDir(), "missing.json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/reindex", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if idx.reindexed != 0 {
		t.Errorf("no reindex call expected, got %d", idx.reindexed)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec.Body.String())
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
}

func TestWebSocketConversation(t *testing.T) {
	srv, mgr, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}

	// The upgrade response exposes the session id for diagnostics.
	sessionID := resp.Header.Get("X-Session-Id")
	if !strings.HasPrefix(sessionID, "s_") {
		t.Fatalf("expected session id in upgrade header, got %q", sessionID)
	}
	stateResp, err := http.Get(ts.URL + "/api/v1/sessions/" + sessionID + "/state")
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	stateResp.Body.Close()
	if stateResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from state endpoint for ws session, got %d", stateResp.StatusCode)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "How can I help?" {
		t.Errorf("unexpected reply: %q", data)
	}
	if mgr.Len() != 1 {
		t.Errorf("expected one live session during the connection, got %d", mgr.Len())
	}

	conn.Close()

	// Disconnect removes the session; the close is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for mgr.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if mgr.Len() != 0 {
		t.Errorf("expected session removed on disconnect, got %d", mgr.Len())
	}
}
