package apptest

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Notification is one recorded Notify call.
type Notification struct {
	Event      string
	Recipients []uuid.UUID
	Payload    map[string]any
}

// Notifier records every notification it is handed.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification

	// Err, when set, is returned from Notify after recording the call.
	Err error
}

func (n *Notifier) Notify(_ context.Context, eventType string, recipients []uuid.UUID, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{
		Event:      eventType,
		Recipients: append([]uuid.UUID(nil), recipients...),
		Payload:    payload,
	})
	return n.Err
}

func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// Events returns the event types in dispatch order.
func (n *Notifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Event)
	}
	return out
}
