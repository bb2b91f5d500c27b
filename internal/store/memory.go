package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for tests and database-less runs.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveMessage inserts a message, filling ID and SentAt when zero.
func (m *Memory) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.messages = append(m.messages, *msg)
	m.mu.Unlock()
	return nil
}

// RecentMessages returns up to limit messages for a channel, newest first.
func (m *Memory) RecentMessages(ctx context.Context, channel string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].Channel == channel {
			out = append(out, m.messages[i])
		}
	}
	return out, nil
}

// DeleteMessage removes a message by id.
func (m *Memory) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, msg := range m.messages {
		if msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Close is a no-op.
func (m *Memory) Close() {}
