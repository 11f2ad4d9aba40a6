// Package checkpoint provides the Checkpointer capability: durable
// snapshots of agent execution state, keyed by agent and session, with a
// memory store for tests and a SQLite store for persistence.
package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Checkpointer is the capability agents consume to persist and resume
// execution state between loop iterations or process restarts.
type Checkpointer interface {
	// SaveCheckpoint stores a snapshot and returns its id.
	SaveCheckpoint(ctx context.Context, agentID, sessionID string, data map[string]any) (string, error)

	// LoadCheckpoint retrieves a snapshot. An empty checkpointID loads the
	// most recent one for the agent/session pair.
	LoadCheckpoint(ctx context.Context, agentID, sessionID, checkpointID string) (map[string]any, error)

	// ListCheckpoints returns checkpoint ids for an agent/session pair,
	// oldest first.
	ListCheckpoints(ctx context.Context, agentID, sessionID string) ([]string, error)

	// Close releases store resources.
	Close() error
}

type record struct {
	id        string
	agentID   string
	sessionID string
	data      map[string]any
	createdAt time.Time
}

// MemoryStore is an in-process Checkpointer for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records []record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, agentID, sessionID string, data map[string]any) (string, error) {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record{
		id:        id,
		agentID:   agentID,
		sessionID: sessionID,
		data:      copied,
		createdAt: time.Now().UTC(),
	})
	return id, nil
}

func (s *MemoryStore) LoadCheckpoint(ctx context.Context, agentID, sessionID, checkpointID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *record
	for i := len(s.records) - 1; i >= 0; i-- {
		r := &s.records[i]
		if r.agentID != agentID || r.sessionID != sessionID {
			continue
		}
		if checkpointID == "" || r.id == checkpointID {
			found = r
			break
		}
	}
	if found == nil {
		return nil, ErrNotFound(agentID, sessionID, checkpointID)
	}

	out := make(map[string]any, len(found.data))
	for k, v := range found.data {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) ListCheckpoints(ctx context.Context, agentID, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		id string
		at time.Time
	}
	var entries []entry
	for _, r := range s.records {
		if r.agentID == agentID && r.sessionID == sessionID {
			entries = append(entries, entry{r.id, r.createdAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
