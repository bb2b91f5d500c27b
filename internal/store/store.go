package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

// Message is one persisted chat message.
type Message struct {
	ID      uuid.UUID
	Channel string
	Sender  string // originating connection identity
	Body    string
	SentAt  time.Time
}

// Store persists chat messages. The messaging core never calls it
// directly; message handlers do.
type Store interface {
	// SaveMessage inserts a message, filling ID and SentAt when zero.
	SaveMessage(ctx context.Context, msg *Message) error

	// RecentMessages returns up to limit messages for a channel,
	// newest first.
	RecentMessages(ctx context.Context, channel string, limit int) ([]Message, error)

	// DeleteMessage removes a message by id.
	DeleteMessage(ctx context.Context, id uuid.UUID) error

	// Close releases underlying resources.
	Close()
}
