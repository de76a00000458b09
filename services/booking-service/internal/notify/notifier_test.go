package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/consultslot/libs/outbox"
)

type captureEmitter struct {
	events []outbox.Event
}

func (c *captureEmitter) Emit(_ context.Context, evt outbox.Event) error {
	c.events = append(c.events, evt)
	return nil
}

func TestOutboxNotifierEmitsRequest(t *testing.T) {
	em := &captureEmitter{}
	n := NewOutboxNotifier(em)
	err := n.Notify(context.Background(), Message{
		RecipientID: "pat-1",
		Title:       "Appointment confirmed",
		Body:        "See you soon",
		Metadata:    map[string]string{"appointment_id": "appt-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(em.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(em.events))
	}
	evt := em.events[0]
	if evt.EventType != outbox.TopicNotificationRequested || evt.AggregateID != "pat-1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	var got map[string]any
	if err := json.Unmarshal(evt.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got["recipient_id"] != "pat-1" || got["notification_id"] == "" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestSendSwallowsFailures(t *testing.T) {
	rec := &Recorder{Err: errors.New("channel down")}
	Send(context.Background(), rec, slog.New(slog.NewTextHandler(io.Discard, nil)), Message{RecipientID: "a"}, Message{RecipientID: "b"})
	if len(rec.Sent()) != 0 {
		t.Fatalf("expected nothing recorded, got %d", len(rec.Sent()))
	}
	rec.Err = nil
	Send(context.Background(), rec, slog.New(slog.NewTextHandler(io.Discard, nil)), Message{RecipientID: "a"})
	if len(rec.Sent()) != 1 {
		t.Fatalf("expected 1 message, got %d", len(rec.Sent()))
	}
}
