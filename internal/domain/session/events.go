package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a session lifecycle transition.
type EventType string

const (
	EventCreated EventType = "created"
	EventEvicted EventType = "evicted"
	EventDeleted EventType = "deleted"
	EventRevoked EventType = "revoked"
	EventSwept   EventType = "swept"
)

// Event is an audit record of a session lifecycle transition.
// It never carries the session token.
type Event struct {
	Type      EventType `json:"type"`
	SessionID uuid.UUID `json:"sessionId,omitempty"`
	UserID    uuid.UUID `json:"userId,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	UserAgent *string   `json:"userAgent,omitempty"`
	IPAddress *string   `json:"ipAddress,omitempty"`
	Count     int       `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent builds an event describing s.
func NewEvent(t EventType, s *Session, at time.Time) Event {
	return Event{
		Type:      t,
		SessionID: s.SessionID,
		UserID:    s.UserID,
		Provider:  s.Provider,
		UserAgent: s.UserAgent,
		IPAddress: s.IPAddress,
		At:        at,
	}
}

// EventPublisher delivers session events to an audit sink.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
