// Package conversation keeps the bounded per-user chat history the
// assistant replays to the model on every request.
package conversation

import (
	"context"
	"sync"
)

// Turn roles stored in history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxTurns is the history bound used when none is configured.
const DefaultMaxTurns = 10

// Turn is one immutable chat message in a user's history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store maps a user identifier to a bounded, ordered history.
// Append creates the bucket if absent, appends all turns in order, then
// keeps only the newest entries. Read returns a copy, possibly empty.
type Store interface {
	Append(ctx context.Context, userID string, turns ...Turn) error
	Read(ctx context.Context, userID string) ([]Turn, error)
	Stats() map[string]any
}

// Trim returns the last n turns of history, preserving order. The
// result never aliases a caller slice it shortened.
func Trim(history []Turn, n int) []Turn {
	if n <= 0 {
		return []Turn{}
	}
	if len(history) <= n {
		return history
	}
	out := make([]Turn, n)
	copy(out, history[len(history)-n:])
	return out
}

// MemoryStore holds histories in process memory for the life of the
// process. Histories are never expired beyond the size bound.
type MemoryStore struct {
	mu       sync.RWMutex
	history  map[string][]Turn
	maxTurns int
}

// NewMemoryStore creates an in-memory store keeping at most maxTurns
// turns per user.
func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &MemoryStore{
		history:  make(map[string][]Turn),
		maxTurns: maxTurns,
	}
}

// Append adds turns to a user's history and trims it to the bound.
func (s *MemoryStore) Append(_ context.Context, userID string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	combined := make([]Turn, 0, len(s.history[userID])+len(turns))
	combined = append(combined, s.history[userID]...)
	combined = append(combined, turns...)
	s.history[userID] = Trim(combined, s.maxTurns)
	return nil
}

// Read returns a copy of a user's history.
func (s *MemoryStore) Read(_ context.Context, userID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]Turn, len(s.history[userID]))
	copy(turns, s.history[userID])
	return turns, nil
}

// Stats returns memory statistics.
func (s *MemoryStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, h := range s.history {
		total += len(h)
	}
	return map[string]any{
		"backend":       "memory",
		"conversations": len(s.history),
		"turns":         total,
		"max_per_user":  s.maxTurns,
	}
}
