package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"github.com/kynelabs/aidline/internal/genai"
	"github.com/kynelabs/aidline/internal/knowledge"
	"github.com/kynelabs/aidline/internal/models"
)

// User-facing fixed messages. These are returned verbatim so transcripts
// stay stable across releases.
const (
	apologyMessage        = "I'm sorry, an error occurred while processing your request. Please try again later."
	fallbackReply         = "I'm sorry, I couldn't generate a proper response."
	noInstructionsMessage = "I'm sorry, I couldn't find any specific instructions for that situation in my database."
	closedMessage         = "This conversation has ended. Please start a new session if you need further assistance."
)

// enrichmentFormat renders a knowledge base hit appended to the model's
// own response. The confidence score is cosine similarity.
const enrichmentFormat = "\n\nHere are some first aid instructions for %s (retrieved from my knowledge base):\n%s\n(Confidence score: %.2f)"

// DefaultHistoryLimit bounds the conversation history kept per session.
const DefaultHistoryLimit = 50

// DefaultRetrievalTimeout bounds one knowledge base lookup.
const DefaultRetrievalTimeout = 10 * time.Second

// Receptionist drives one triage conversation: it renders the system
// prompt, calls the LLM gateway, applies the model's proposed state
// transition and context updates, and enriches emergency replies with
// first aid instructions from the knowledge base. One Receptionist owns
// one session's history and state machine; callers serialize turns.
type Receptionist struct {
	gateway   genai.ClientInterface
	retriever knowledge.Searcher
	renderer  *PromptRenderer
	sm        *StateMachine
	history   []models.Turn

	historyLimit     int
	terminalFinal    bool
	retrievalTimeout time.Duration
}

// ReceptionistOption configures a Receptionist.
type ReceptionistOption func(*Receptionist)

// WithHistoryLimit overrides how many turns of history are retained.
// Values below 1 keep the default.
func WithHistoryLimit(limit int) ReceptionistOption {
	return func(r *Receptionist) {
		if limit > 0 {
			r.historyLimit = limit
		}
	}
}

// WithTerminalFinal makes FINAL a terminal state: further input is
// answered with a fixed closing message and no gateway call.
func WithTerminalFinal(enabled bool) ReceptionistOption {
	return func(r *Receptionist) { r.terminalFinal = enabled }
}

// WithRetrievalTimeout overrides the per-lookup knowledge base timeout.
func WithRetrievalTimeout(timeout time.Duration) ReceptionistOption {
	return func(r *Receptionist) {
		if timeout > 0 {
			r.retrievalTimeout = timeout
		}
	}
}

// NewReceptionist creates a receptionist in the initial state with an
// empty history.
func NewReceptionist(gateway genai.ClientInterface, retriever knowledge.Searcher, renderer *PromptRenderer, opts ...ReceptionistOption) *Receptionist {
	r := &Receptionist{
		gateway:          gateway,
		retriever:        retriever,
		renderer:         renderer,
		sm:               NewStateMachine(),
		historyLimit:     DefaultHistoryLimit,
		retrievalTimeout: DefaultRetrievalTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessInput handles one user turn and returns the reply text. It
// never fails outwardly: every failure mode degrades to a fixed message
// or to the model's raw output. Both the user turn and the reply are
// recorded in history.
func (r *Receptionist) ProcessInput(ctx context.Context, userText string) string {
	if r.terminalFinal && r.sm.Current() == models.StateFinal {
		slog.Debug("Receptionist.ProcessInput: conversation already final, short-circuiting")
		return closedMessage
	}

	r.appendTurn(models.RoleUser, userText)
	reply := r.generate(ctx, userText)
	r.appendTurn(models.RoleAssistant, reply)
	return reply
}

// generate runs the turn protocol: render prompt, call the gateway with
// the full history, parse the structured reply, apply the transition and
// context merge, then enrich emergency replies.
func (r *Receptionist) generate(ctx context.Context, userText string) string {
	systemPrompt, err := r.renderer.Render(r.sm.Current(), r.sm.Snapshot())
	if err != nil {
		// A render failure must not cost the caller their turn.
		slog.Error("Receptionist.generate: prompt render failed, using minimal prompt", "error", err)
		systemPrompt = "You are an AI receptionist for an emergency assistance line."
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(r.history)+1)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, turn := range r.history {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	raw, err := r.gateway.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("Receptionist.generate: gateway call failed", "error", err, "state", r.sm.Current())
		return apologyMessage
	}

	reply, ok := models.ParseAssistantReply(raw)
	if !ok {
		slog.Warn("Receptionist.generate: unstructured model output, returning verbatim", "state", r.sm.Current())
		return raw
	}

	next, valid := models.ParseStateType(reply.NewState)
	if !valid {
		slog.Warn("Receptionist.generate: unrecognized state from model, defaulting", "proposed", reply.NewState, "default", models.StateInitial)
		next = models.StateInitial
	}
	r.sm.TransitionTo(next)
	if len(reply.ContextUpdates) > 0 {
		r.sm.UpdateContext(reply.ContextUpdates)
	}

	if reply.Response == "" {
		slog.Warn("Receptionist.generate: structured reply with empty response", "state", next)
		return fallbackReply
	}

	response := reply.Response
	if next == models.StateEmergency {
		// Only this turn's updates trigger a lookup; a type learned on a
		// previous turn has already been answered.
		if emergencyType, ok := reply.ContextUpdates["emergency_type"].(string); ok && emergencyType != "" {
			response += r.enrich(ctx, emergencyType)
		}
	}
	return response
}

// enrich queries the knowledge base for first aid instructions and
// returns the text to append to the model's response. Misses and lookup
// failures both produce the fixed "no instructions" sentence.
func (r *Receptionist) enrich(ctx context.Context, emergencyType string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, r.retrievalTimeout)
	defer cancel()

	result, err := r.retriever.Search(lookupCtx, emergencyType)
	if err != nil {
		slog.Error("Receptionist.enrich: knowledge base lookup failed", "error", err, "emergencyType", emergencyType)
		return "\n\n" + noInstructionsMessage
	}
	if !result.Found {
		slog.Info("Receptionist.enrich: no instructions found", "emergencyType", emergencyType)
		return "\n\n" + noInstructionsMessage
	}

	slog.Info("Receptionist.enrich: instructions retrieved", "emergencyType", emergencyType, "tag", result.Tag, "score", result.Score)
	return fmt.Sprintf(enrichmentFormat, result.Tag, result.Response, result.Score)
}

// appendTurn records one turn and trims history to the configured bound,
// dropping the oldest turns first.
func (r *Receptionist) appendTurn(role, content string) {
	r.history = append(r.history, models.Turn{Role: role, Content: content, Timestamp: time.Now()})
	if len(r.history) > r.historyLimit {
		r.history = r.history[len(r.history)-r.historyLimit:]
	}
}

// StateSnapshot returns the current state and context for diagnostics.
func (r *Receptionist) StateSnapshot() map[string]any {
	return r.sm.Snapshot()
}

// History returns a copy of the conversation history.
func (r *Receptionist) History() []models.Turn {
	out := make([]models.Turn, len(r.history))
	copy(out, r.history)
	return out
}
