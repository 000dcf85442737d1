package session

import (
	"errors"
	"sync"

	"github.com/harunnryd/voxbridge/pkg/engine"
)

// ErrDuplicateSession is returned when a call id is already registered.
var ErrDuplicateSession = errors.New("duplicate session")

// Registry is the process-wide call-id to session table. It is the only
// state shared across calls.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a session under its call id. A race to create the
// same id yields ErrDuplicateSession to the loser.
func (r *Registry) Create(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.CallID]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.CallID] = s
	return nil
}

// Get returns the session for a call id, or nil.
func (r *Registry) Get(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// FindByEngineConn resolves a session from its engine socket handle.
// Used when a control event arrives on the engine side and the caller
// only holds the connection.
func (r *Registry) FindByEngineConn(conn *engine.Conn) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Engine == conn {
			return s
		}
	}
	return nil
}

// Remove deletes a session. Removing an absent id is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	delete(r.sessions, callID)
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for every live session. Used on drain.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}
