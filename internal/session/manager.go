// Package session tracks live conversations. Each session owns one
// flow.Receptionist; a per-session lock serializes turns on a session
// while distinct sessions proceed in parallel.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kynelabs/aidline/internal/flow"
	"github.com/kynelabs/aidline/internal/models"
	"github.com/kynelabs/aidline/internal/util"
)

// DefaultIdleTTL is how long an untouched session survives before the
// janitor evicts it.
const DefaultIdleTTL = 30 * time.Minute

// janitorInterval is how often idle sessions are swept.
const janitorInterval = time.Minute

// ErrSessionNotFound is returned for operations on unknown session IDs.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Factory builds the receptionist for a new session. The manager stays
// ignorant of gateway and retrieval wiring.
type Factory func() *flow.Receptionist

// entry pairs a receptionist with its turn lock. lastSeen is atomic
// (unix nanos) so the janitor can check idleness without touching the
// turn lock, which an in-flight LLM call may hold for many seconds.
type entry struct {
	mu           sync.Mutex
	receptionist *flow.Receptionist
	lastSeen     atomic.Int64
}

func newEntry(r *flow.Receptionist) *entry {
	e := &entry{receptionist: r}
	e.lastSeen.Store(time.Now().UnixNano())
	return e
}

// Manager is the registry of live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	factory  Factory
	idleTTL  time.Duration

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTTL overrides how long idle sessions are retained.
func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

// NewManager creates a session registry. Call Start to run the idle
// sweeper and Stop on shutdown.
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*entry),
		factory:     factory,
		idleTTL:     DefaultIdleTTL,
		stopJanitor: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a fresh session and returns its ID.
func (m *Manager) Create() string {
	id := util.GenerateSessionID()
	m.mu.Lock()
	m.sessions[id] = newEntry(m.factory())
	m.mu.Unlock()
	slog.Info("Manager.Create: session created", "sessionID", id)
	return id
}

// getOrCreate returns the entry for id, creating it when absent. A
// caller-supplied ID is honored so clients can resume by ID.
func (m *Manager) getOrCreate(id string) *entry {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.sessions[id]; ok {
		return e
	}
	e = newEntry(m.factory())
	m.sessions[id] = e
	slog.Info("Manager.getOrCreate: session created on first message", "sessionID", id)
	return e
}

// Process runs one user turn on the session, creating it if needed.
// Turns on the same session are serialized; the registry lock is not
// held during the turn.
func (m *Manager) Process(ctx context.Context, id, userText string) string {
	e := m.getOrCreate(id)
	e.lastSeen.Store(time.Now().UnixNano())

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receptionist.ProcessInput(ctx, userText)
}

// Snapshot returns the session's current state and context.
func (m *Manager) Snapshot(id string) (map[string]any, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receptionist.StateSnapshot(), nil
}

// History returns a copy of the session's conversation history.
func (m *Manager) History(id string) ([]models.Turn, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receptionist.History(), nil
}

// Remove drops the session. Unknown IDs return ErrSessionNotFound.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	slog.Info("Manager.Remove: session removed", "sessionID", id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the background janitor that evicts idle sessions.
func (m *Manager) Start() {
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.evictIdle(time.Now())
			case <-m.stopJanitor:
				return
			}
		}
	}()
}

// Stop terminates the janitor. Safe to call more than once.
func (m *Manager) Stop() {
	m.janitorOnce.Do(func() { close(m.stopJanitor) })
}

// evictIdle removes sessions whose last activity is older than the TTL.
// It never takes an entry's turn lock: a session mid-turn would hold it
// for the length of an LLM call, and stalling here would stall every
// registry operation behind m.mu.
func (m *Manager) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		idle := now.Sub(time.Unix(0, e.lastSeen.Load()))
		if idle > m.idleTTL {
			delete(m.sessions, id)
			slog.Info("Manager.evictIdle: idle session evicted", "sessionID", id, "idle", idle)
		}
	}
}
