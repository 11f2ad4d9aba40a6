// Package memory provides the session-scoped context engine capability:
// durable key/value context agents keep between turns.
package memory

import (
	"context"
	"sync"
)

// ContextEngine is the capability agents consume for durable per-session
// context. Implementations must be safe for concurrent use.
type ContextEngine interface {
	// Initialize prepares the engine for use.
	Initialize(ctx context.Context) error

	// Put stores a value under a key within a session.
	Put(ctx context.Context, sessionID, key string, value any) error

	// Get retrieves a value; the second return reports presence.
	Get(ctx context.Context, sessionID, key string) (any, bool, error)

	// Keys lists the keys of a session.
	Keys(ctx context.Context, sessionID string) ([]string, error)

	// Close releases engine resources.
	Close() error
}

// session is one session's store with its own lock, so sessions never
// contend with each other.
type session struct {
	mu     sync.RWMutex
	values map[string]any
}

// InMemoryEngine is the default ContextEngine: per-session maps guarded by
// per-session locks. Data does not survive the process.
type InMemoryEngine struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewInMemoryEngine creates an empty engine.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{sessions: make(map[string]*session)}
}

// Initialize is a no-op for the in-memory engine.
func (e *InMemoryEngine) Initialize(ctx context.Context) error { return nil }

func (e *InMemoryEngine) session(sessionID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, exists := e.sessions[sessionID]
	if !exists {
		s = &session{values: make(map[string]any)}
		e.sessions[sessionID] = s
	}
	return s
}

// Put stores a value in a session.
func (e *InMemoryEngine) Put(ctx context.Context, sessionID, key string, value any) error {
	s := e.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Get retrieves a value from a session.
func (e *InMemoryEngine) Get(ctx context.Context, sessionID, key string) (any, bool, error) {
	s := e.session(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, exists := s.values[key]
	return value, exists, nil
}

// Keys lists a session's keys.
func (e *InMemoryEngine) Keys(ctx context.Context, sessionID string) ([]string, error) {
	s := e.session(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	return keys, nil
}

// DropSession removes a session and its values.
func (e *InMemoryEngine) DropSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// Close clears all sessions.
func (e *InMemoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = make(map[string]*session)
	return nil
}
