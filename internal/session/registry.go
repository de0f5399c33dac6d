package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRecoveryPending is returned while startup reconciliation has not
	// finished; accepting sessions before the store and the backend agree
	// would race resumed state.
	ErrRecoveryPending = errors.New("session registry not open: recovery pending")
	// ErrSessionTerminal is returned for a session id that already reached
	// Closed or Orphaned in this process lifetime.
	ErrSessionTerminal = errors.New("session already reached a terminal state")
)

const tombstoneRetention = time.Hour

// Factory constructs the state machine for a session seen for the first
// time.
type Factory func(sessionID, room, participant string) *StateMachine

// Registry is the single shared map from session id to live state machine.
// It enforces at-most-one instance per id: concurrent GetOrCreate calls for
// the same id observe the same machine.
type Registry struct {
	factory Factory

	mu         sync.Mutex
	open       bool
	sessions   map[string]*StateMachine
	tombstones map[string]time.Time
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:    factory,
		sessions:   make(map[string]*StateMachine),
		tombstones: make(map[string]time.Time),
	}
}

// Open admits new sessions. Called by the recovery coordinator once
// reconciliation has run to completion.
func (r *Registry) Open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
}

// Resume installs a machine rebuilt from persisted state. Only legal before
// Open; reconciliation is the sole path that revives a stored session.
func (r *Registry) Resume(sm *StateMachine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return errors.New("resume after registry opened")
	}
	if _, exists := r.sessions[sm.ID()]; exists {
		return errors.New("duplicate resume for session " + sm.ID())
	}
	r.sessions[sm.ID()] = sm
	return nil
}

// GetOrCreate returns the machine for sessionID, constructing one in Pending
// when absent. The boolean reports whether this call created it.
func (r *Registry) GetOrCreate(sessionID, room, participant string) (*StateMachine, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil, false, ErrRecoveryPending
	}
	if sm, ok := r.sessions[sessionID]; ok {
		return sm, false, nil
	}
	r.pruneTombstonesLocked()
	if _, dead := r.tombstones[sessionID]; dead {
		// late duplicate callback for a settled session
		return nil, false, ErrSessionTerminal
	}
	sm := r.factory(sessionID, room, participant)
	r.sessions[sessionID] = sm
	return sm, true, nil
}

func (r *Registry) Get(sessionID string) (*StateMachine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sm, ok := r.sessions[sessionID]
	return sm, ok
}

// Remove drops a machine that reached a terminal state and tombstones its
// id so at-least-once callback redelivery cannot resurrect it.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	delete(r.sessions, sessionID)
	r.tombstones[sessionID] = time.Now()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Active returns a snapshot of the live machines, for shutdown sweeps.
func (r *Registry) Active() []*StateMachine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*StateMachine, 0, len(r.sessions))
	for _, sm := range r.sessions {
		out = append(out, sm)
	}
	return out
}

func (r *Registry) pruneTombstonesLocked() {
	cutoff := time.Now().Add(-tombstoneRetention)
	for id, at := range r.tombstones {
		if at.Before(cutoff) {
			delete(r.tombstones, id)
		}
	}
}
