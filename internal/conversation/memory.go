package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Backend.
type MemoryStore struct {
	mu    sync.RWMutex
	msgs  map[string][]Message
	index map[string]struct{}
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		msgs:  make(map[string][]Message),
		index: make(map[string]struct{}),
	}
}

// Name implements Backend.
func (m *MemoryStore) Name() string { return "memory" }

// Insert implements Backend.
func (m *MemoryStore) Insert(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[msg.ID]; ok {
		return fmt.Errorf("insert %s: %w", msg.ID, errDuplicateID)
	}
	m.index[msg.ID] = struct{}{}
	m.msgs[msg.ConversationID] = append(m.msgs[msg.ConversationID], msg)
	return nil
}

// History implements Backend.
func (m *MemoryStore) History(_ context.Context, conversationID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.msgs[conversationID]
	out := make([]Message, len(src))
	copy(out, src)
	return out, nil
}

// Latest implements Backend.
func (m *MemoryStore) Latest(_ context.Context, conversationID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.msgs[conversationID]
	if len(msgs) == 0 {
		return time.Time{}, nil
	}
	return msgs[len(msgs)-1].CreatedAt, nil
}

// Close implements Backend.
func (m *MemoryStore) Close() error { return nil }
