// Package models defines the shared data types for Aidline conversations.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StateType represents a conversation state in the triage flow.
type StateType string

// Conversation states. The relation between them is flat: the model may
// name any state as the target of a turn, and the controller validates
// the name against this set before applying it.
const (
	StateInitial   StateType = "INITIAL"
	StateEmergency StateType = "EMERGENCY"
	StateMessage   StateType = "MESSAGE"
	StateLocation  StateType = "LOCATION"
	StateFinal     StateType = "FINAL"
)

// knownStates is the closed set of states the controller will accept.
var knownStates = map[StateType]bool{
	StateInitial:   true,
	StateEmergency: true,
	StateMessage:   true,
	StateLocation:  true,
	StateFinal:     true,
}

// ParseStateType validates a state name coming from model output.
// Returns false for names outside the known enumeration; callers decide
// the fallback policy.
func ParseStateType(name string) (StateType, bool) {
	s := StateType(name)
	if knownStates[s] {
		return s, true
	}
	return "", false
}

// Conversation turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn represents a single message in a conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AssistantReply is the structured shape the model is prompted to return.
// Every field is optional; absence must be tolerated.
type AssistantReply struct {
	Response       string         `json:"response"`
	NewState       string         `json:"new_state,omitempty"`
	ContextUpdates map[string]any `json:"context_updates,omitempty"`
}

// ParseAssistantReply attempts to interpret raw model output as an
// AssistantReply. A false return means the text is not structured data
// and should be surfaced to the user verbatim. Only JSON objects count
// as structured: `null`, quoted strings and arrays also unmarshal into
// the struct without error, but carry no reply fields.
func ParseAssistantReply(raw string) (AssistantReply, bool) {
	if !strings.HasPrefix(strings.TrimLeft(raw, " \t\r\n"), "{") {
		return AssistantReply{}, false
	}
	var reply AssistantReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return AssistantReply{}, false
	}
	return reply, true
}

// RetrievalResult is the outcome of a knowledge base query. Found
// discriminates a usable match (Hit) from a Miss; Score is cosine
// similarity in [0,1] for normalized embeddings.
type RetrievalResult struct {
	Tag      string  `json:"tag"`
	Response string  `json:"response"`
	Score    float64 `json:"score"`
	Found    bool    `json:"found"`
}

// Intent is one knowledge base entry: a category tag, example phrasings
// used for matching, and canned instruction texts.
type Intent struct {
	Tag       string   `json:"tag"`
	Patterns  []string `json:"patterns"`
	Responses []string `json:"responses"`
}

// IntentsFile mirrors the on-disk knowledge base format:
// {"root": {"intents": [...]}}.
type IntentsFile struct {
	Root struct {
		Intents []Intent `json:"intents"`
	} `json:"root"`
}

// Validate checks an intent for the fields the indexer requires.
func (i Intent) Validate() error {
	if i.Tag == "" {
		return fmt.Errorf("intent missing tag")
	}
	if len(i.Patterns) == 0 {
		return fmt.Errorf("intent %q has no patterns", i.Tag)
	}
	if len(i.Responses) == 0 {
		return fmt.Errorf("intent %q has no responses", i.Tag)
	}
	return nil
}

// MessageRequest is the transport payload for submitting one user turn.
type MessageRequest struct {
	Message string `json:"message"`
}

// Validate checks the message request for required fields.
func (r MessageRequest) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("missing required field: message")
	}
	return nil
}

// MessageResult is the transport payload returned for one turn.
type MessageResult struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}
