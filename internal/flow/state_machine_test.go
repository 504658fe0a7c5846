package flow

import (
	"testing"

	"github.com/kynelabs/aidline/internal/models"
)

func TestNewStateMachineStartsInitial(t *testing.T) {
	sm := NewStateMachine()
	if sm.Current() != models.StateInitial {
		t.Errorf("expected initial state %s, got %s", models.StateInitial, sm.Current())
	}
	snap := sm.Snapshot()
	if len(snap) != 1 || snap["state"] != string(models.StateInitial) {
		t.Errorf("expected snapshot with only the state key, got %v", snap)
	}
}

func TestTransitionTo(t *testing.T) {
	sm := NewStateMachine()
	sm.TransitionTo(models.StateEmergency)
	if sm.Current() != models.StateEmergency {
		t.Errorf("expected state %s, got %s", models.StateEmergency, sm.Current())
	}
	// Repeated transition to the same state is a no-op.
	sm.TransitionTo(models.StateEmergency)
	if sm.Current() != models.StateEmergency {
		t.Errorf("expected state %s after repeat transition, got %s", models.StateEmergency, sm.Current())
	}
}

func TestUpdateContextMergesRightBiased(t *testing.T) {
	sm := NewStateMachine()
	sm.UpdateContext(map[string]any{"emergency_type": "burn", "location": "kitchen"})
	sm.UpdateContext(map[string]any{"emergency_type": "scald"})

	snap := sm.Snapshot()
	if snap["emergency_type"] != "scald" {
		t.Errorf("expected later update to win, got %v", snap["emergency_type"])
	}
	if snap["location"] != "kitchen" {
		t.Errorf("expected untouched key to survive, got %v", snap["location"])
	}
}

func TestSnapshotDoesNotAliasContext(t *testing.T) {
	sm := NewStateMachine()
	sm.UpdateContext(map[string]any{"message": "call me back"})

	snap := sm.Snapshot()
	snap["message"] = "tampered"
	snap["injected"] = true

	fresh := sm.Snapshot()
	if fresh["message"] != "call me back" {
		t.Errorf("snapshot mutation leaked into the machine: %v", fresh["message"])
	}
	if _, ok := fresh["injected"]; ok {
		t.Error("injected key leaked into the machine")
	}
}

func TestSnapshotIsIdempotent(t *testing.T) {
	sm := NewStateMachine()
	sm.TransitionTo(models.StateLocation)
	sm.UpdateContext(map[string]any{"emergency_type": "burn"})

	first := sm.Snapshot()
	second := sm.Snapshot()
	if len(first) != len(second) {
		t.Fatalf("snapshots differ in size: %v vs %v", first, second)
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("snapshots differ at %q: %v vs %v", k, v, second[k])
		}
	}
}

func TestReset(t *testing.T) {
	sm := NewStateMachine()
	sm.TransitionTo(models.StateFinal)
	sm.UpdateContext(map[string]any{"emergency_type": "burn"})

	sm.Reset()
	if sm.Current() != models.StateInitial {
		t.Errorf("expected reset to %s, got %s", models.StateInitial, sm.Current())
	}
	if snap := sm.Snapshot(); len(snap) != 1 {
		t.Errorf("expected empty context after reset, got %v", snap)
	}
}
