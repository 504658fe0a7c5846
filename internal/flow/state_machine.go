// Package flow implements the conversation state machine and the
// receptionist controller that drives one triage conversation.
package flow

import (
	"log/slog"
	"sync"

	"github.com/kynelabs/aidline/internal/models"
)

// StateMachine holds the current conversation state plus an arbitrary
// key/value context. It is a passive data holder: the receptionist
// decides when to transition and what to merge. A mutex guards the
// fields so diagnostics snapshots are safe while the session lock
// serializes turns.
type StateMachine struct {
	mu      sync.Mutex
	current models.StateType
	context map[string]any
}

// NewStateMachine creates a state machine in (INITIAL, empty context).
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: models.StateInitial,
		context: make(map[string]any),
	}
}

// Current returns the current state.
func (sm *StateMachine) Current() models.StateType {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// TransitionTo unconditionally sets the current state. The flat state
// relation has no legal-pair table; validation of the state name itself
// happens at parse time in the controller.
func (sm *StateMachine) TransitionTo(state models.StateType) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if state != sm.current {
		slog.Debug("StateMachine.TransitionTo: state transition", "from", sm.current, "to", state)
	}
	sm.current = state
}

// UpdateContext merges updates into the context, overwriting existing
// keys. The context only grows; it never shrinks except on Reset.
func (sm *StateMachine) UpdateContext(updates map[string]any) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for k, v := range updates {
		sm.context[k] = v
	}
}

// Snapshot returns a copy of the context plus a "state" key. The copy
// never aliases internal state, so callers cannot corrupt future turns.
func (sm *StateMachine) Snapshot() map[string]any {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	snap := make(map[string]any, len(sm.context)+1)
	for k, v := range sm.context {
		snap[k] = v
	}
	snap["state"] = string(sm.current)
	return snap
}

// Reset returns the machine to the initial state with an empty context.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.current = models.StateInitial
	sm.context = make(map[string]any)
}
