// Package eventbus implements the session event sink consumed interface
// from spec.md §6: {type: 'message' | 'ready', message?}, emitted for
// user-facing status. Two implementations satisfy EventBus: an in-memory
// bus for tests and single-process deployments, and a NATS-backed bus for
// multi-process deployments.
package eventbus

import (
	"context"
	"time"
)

// EventType is the closed set of session event types the core emits.
type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeReady   EventType = "ready"
)

// Event is one session-facing status event.
type Event struct {
	ID        string
	Type      EventType
	SessionID string
	Message   string
	Timestamp time.Time
	Data      map[string]any
}

// Handler processes one Event. Returning an error does not unsubscribe the
// handler; delivery is best-effort.
type Handler func(ctx context.Context, evt *Event) error

// Subscription is returned by Subscribe/QueueSubscribe.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the session event sink contract. Subjects are session-scoped,
// e.g. "session.<id>.events".
type EventBus interface {
	Publish(ctx context.Context, subject string, evt *Event) error
	Subscribe(subject string, h Handler) (Subscription, error)
	QueueSubscribe(subject, queue string, h Handler) (Subscription, error)
	Close() error
	IsConnected() bool
}

// Subject returns the canonical subject for a session's events.
func Subject(sessionID string) string {
	return "session." + sessionID + ".events"
}
