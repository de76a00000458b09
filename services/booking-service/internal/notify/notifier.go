// Package notify hands notifications to the delivery channel. Delivery is
// fire-and-forget: failures are logged and never fail the calling operation.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultslot/libs/outbox"
)

type Message struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// OutboxNotifier publishes notification requests through the outbox so the
// notification service can deliver them.
type OutboxNotifier struct {
	emitter outbox.Emitter
}

func NewOutboxNotifier(emitter outbox.Emitter) *OutboxNotifier {
	return &OutboxNotifier{emitter: emitter}
}

type requestedPayload struct {
	NotificationID string `json:"notification_id"`
	Message
}

func (n *OutboxNotifier) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(requestedPayload{NotificationID: uuid.NewString(), Message: msg})
	if err != nil {
		return err
	}
	return n.emitter.Emit(ctx, outbox.Event{
		AggregateType: "party",
		AggregateID:   msg.RecipientID,
		EventType:     outbox.TopicNotificationRequested,
		Payload:       payload,
	})
}

// Send delivers each message and logs failures.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, msgs ...Message) {
	if n == nil {
		return
	}
	for _, msg := range msgs {
		if err := n.Notify(ctx, msg); err != nil {
			logger.Warn("notification dispatch failed", "recipient_id", msg.RecipientID, "title", msg.Title, "err", err)
		}
	}
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}
