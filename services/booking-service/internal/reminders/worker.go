package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	otelx "github.com/md-rashed-zaman/consultslot/libs/otel"
	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/notify"
)

type Appointments interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
}

type Slots interface {
	Get(ctx context.Context, id string) (model.Slot, error)
}

type Worker struct {
	store      Store
	appts      Appointments
	slots      Slots
	notifier   notify.Notifier
	events     outbox.Emitter
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	backoff    time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

type WorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	Backoff    time.Duration
	StaleAfter time.Duration
}

func NewWorker(store Store, appts Appointments, slots Slots, notifier notify.Notifier, events outbox.Emitter, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Worker{
		store:      store,
		appts:      appts,
		slots:      slots,
		notifier:   notifier,
		events:     events,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

// RunOnce claims due jobs and fires them. It returns the number fired.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now().UTC()
	jobs, err := w.store.ClaimDueReminders(ctx, now, w.staleAfter, w.batchSize)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, job := range jobs {
		jobCtx := otelx.TraceContext{Traceparent: job.Traceparent, Tracestate: job.Tracestate}.Attach(ctx)
		err := w.fire(jobCtx, job)
		switch {
		case err == nil:
			if err := w.store.MarkReminderFired(ctx, job.ID); err != nil {
				return fired, err
			}
			fired++
		case errors.Is(err, errSkip):
			if _, err := w.store.CancelReminders(ctx, job.AppointmentID); err != nil {
				return fired, err
			}
		default:
			if err := w.retry(jobCtx, job, now, err); err != nil {
				return fired, err
			}
		}
	}
	return fired, nil
}

var errSkip = errors.New("appointment no longer needs a reminder")

func (w *Worker) fire(ctx context.Context, job model.ReminderJob) error {
	appt, err := w.appts.Get(ctx, job.AppointmentID)
	if errors.Is(err, model.ErrAppointmentNotFound) {
		return errSkip
	}
	if err != nil {
		return err
	}
	if !appt.Status.Active() {
		return errSkip
	}
	slot, err := w.slots.Get(ctx, appt.SlotID)
	if err != nil {
		return err
	}

	meta := map[string]string{
		"appointment_id": appt.ID,
		"starts_at":      slot.StartsAt.UTC().Format(time.RFC3339),
		"session_link":   appt.SessionLink,
	}
	body := fmt.Sprintf("Your consultation starts at %s.", slot.StartsAt.UTC().Format(time.RFC1123))
	for _, recipient := range []string{appt.RequesterID, appt.OwnerID} {
		if slices.Contains(job.DeliveredTo, recipient) {
			continue
		}
		if err := w.notifier.Notify(ctx, notify.Message{
			RecipientID: recipient,
			Title:       "Upcoming consultation",
			Body:        body,
			Metadata:    meta,
		}); err != nil {
			return err
		}
		if err := w.store.MarkReminderDelivered(ctx, job.ID, recipient); err != nil {
			return fmt.Errorf("record reminder delivery: %w", err)
		}
	}
	return nil
}

func (w *Worker) retry(ctx context.Context, job model.ReminderJob, now time.Time, cause error) error {
	attempts := job.Attempts + 1
	nextRunAt := now.Add(w.backoff * time.Duration(attempts))
	status, err := w.store.MarkReminderFailed(ctx, job.ID, attempts, nextRunAt, cause.Error())
	if err != nil {
		return err
	}
	w.logger.Warn("reminder delivery failed", "reminder_id", job.ID, "appointment_id", job.AppointmentID, "attempts", attempts, "err", cause)
	if status != model.ReminderFailed || w.events == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"reminder_id":    job.ID,
		"appointment_id": job.AppointmentID,
		"fire_at":        job.FireAt.UTC().Format(time.RFC3339),
		"attempts":       attempts,
		"error_reason":   cause.Error(),
		"failed_at":      now.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.events.Emit(ctx, outbox.Event{
		AggregateType: "reminder_job",
		AggregateID:   job.AppointmentID,
		EventType:     outbox.TopicReminderFailed,
		Payload:       payload,
	})
}
