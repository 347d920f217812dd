package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// Chat event types broadcast to group members.
const (
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
)

// Event is a real-time chat notification.
type Event struct {
	Type      string                `json:"type"`
	GroupID   string                `json:"group_id"`
	MessageID string                `json:"message_id"`
	Message   *domain.CachedMessage `json:"message,omitempty"`
	At        time.Time             `json:"at"`
}

// Publisher delivers chat events to connected clients. Delivery is best
// effort; a failed publish never fails the request that caused it.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher is a Publisher that only logs events. It stands in for the
// real-time transport when none is configured.
type LogPublisher struct {
	Log zerolog.Logger
}

// Publish logs ev at debug level.
func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Log.Debug().
		Str("event", ev.Type).
		Str("group_id", ev.GroupID).
		Str("message_id", ev.MessageID).
		Msg("chat event")
	return nil
}
