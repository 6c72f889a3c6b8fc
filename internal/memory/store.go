// Package memory implements the append-only per-conversation message log.
package memory

import (
	"context"
	"sync"

	"github.com/loomlabs/loom/pkg/models"
)

// Store is the memory port: a keyed append-only log. Ordering is insertion
// order. Writes are serialized per key; concurrent readers observe a prefix
// of the write order. Messages are immutable once appended.
type Store interface {
	Append(ctx context.Context, conversationID string, messages []*models.Message) error
	Get(ctx context.Context, conversationID string) ([]*models.Message, error)
	Clear(ctx context.Context, conversationID string) error
}

// InMemoryStore keeps conversations in process memory.
type InMemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]*models.Message
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{logs: make(map[string][]*models.Message)}
}

// Append implements Store. Messages are cloned on the way in so later caller
// mutations cannot reach the log.
func (s *InMemoryStore) Append(ctx context.Context, conversationID string, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range messages {
		s.logs[conversationID] = append(s.logs[conversationID], msg.Clone())
	}
	return nil
}

// Get implements Store, returning clones in insertion order.
func (s *InMemoryStore) Get(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	out := make([]*models.Message, len(log))
	for i, msg := range log {
		out[i] = msg.Clone()
	}
	return out, nil
}

// Clear implements Store.
func (s *InMemoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, conversationID)
	return nil
}
