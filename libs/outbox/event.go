package outbox

import (
	"context"
	"log/slog"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one event type per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	TopicNotificationRequested = "consult.notification.requested.v1"
	TopicSettlementFailed      = "consult.settlement.failed.v1"
	TopicReminderFailed        = "consult.reminder.failed.v1"

	TopicNotificationSent   = "consult.notification.sent.v1"
	TopicNotificationFailed = "consult.notification.failed.v1"
)

// Emitter accepts events for eventual publication.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// LogEmitter only logs events. Used when no database-backed outbox is configured.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e LogEmitter) Emit(_ context.Context, evt Event) error {
	e.Logger.Info("event emitted",
		"event_type", evt.EventType,
		"aggregate_type", evt.AggregateType,
		"aggregate_id", evt.AggregateID,
		"payload", string(evt.Payload),
	)
	return nil
}
