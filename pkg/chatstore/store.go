// Package chatstore persists room messages on the client side so that the
// active room can be rendered and de-duplicated without re-fetching history
// from the backend on every notification.
package chatstore

import (
	"context"
	"time"
)

// Message is one chat message as kept by the client-side cache.
type Message struct {
	ID         string
	RoomID     string
	AuthorID   int64
	AuthorName string
	Body       string
	SentAt     time.Time
}

// MessageStore is the room message cache. Append reports whether the message
// id was new for its room; re-appending a known id is a no-op so that the
// notification and the authoritative payload of the same message collapse
// into a single entry.
type MessageStore interface {
	Append(ctx context.Context, msg Message) (bool, error)
	Messages(ctx context.Context, roomID string) ([]Message, error)
	LastMessage(ctx context.Context, roomID string) (Message, bool, error)
	Close() error
}
