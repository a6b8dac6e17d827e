package voice

import (
	"errors"
	"sync"
)

// ErrMissingIdentity is returned by [Registry.Create] when no user identity
// was supplied.
var ErrMissingIdentity = errors.New("voice: missing authenticated user identity")

// ErrSessionExists is returned by [Registry.Create] when a session for the
// connection already exists.
var ErrSessionExists = errors.New("voice: session already exists")

// Registry tracks live sessions keyed by connection ID. Safe for concurrent
// use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session for the connection. Every session is bound
// to a user identity; an empty userID fails with [ErrMissingIdentity]
// regardless of whether voice verification is enabled.
func (r *Registry) Create(connID, userID string, ringCapBytes int, latency *LatencyTracker) (*Session, error) {
	if userID == "" {
		return nil, ErrMissingIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[connID]; ok {
		return nil, ErrSessionExists
	}
	sess := NewSession(connID, userID, ringCapBytes, latency)
	r.sessions[connID] = sess
	return sess, nil
}

// Get returns the session for the connection, if any.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	return sess, ok
}

// Remove deletes and returns the session for the connection. A second call
// for the same connection returns (nil, false), which is what makes
// double teardown harmless.
func (r *Registry) Remove(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	return sess, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// All returns a snapshot of the live sessions.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
