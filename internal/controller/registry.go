package controller

import (
	"context"
	"sync"

	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/metrics"
)

// Registry tracks every live session, keyed by session id.
type Registry struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*Session
	deps     Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{sessions: make(map[domain.SessionID]*Session), deps: deps}
}

// Create allocates a new session and registers it.
func (r *Registry) Create() *Session {
	s := NewSession(r.deps)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	metrics.ActiveSessions.Inc()
	return s
}

// Get looks up a session by id.
func (r *Registry) Get(id domain.SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close stops the session's workers and removes it from the registry --
// the disconnect-cleanup path for a closed client connection.
func (r *Registry) Close(ctx context.Context, id domain.SessionID) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Stop()
		metrics.ActiveSessions.Dec()
	}
}

// Len reports the number of live sessions, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
