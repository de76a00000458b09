// Package reminders keeps reminders as durable jobs. Nothing is held in
// process timers, so scheduled reminders survive restarts.
package reminders

import (
	"context"
	"fmt"
	"time"

	otelx "github.com/md-rashed-zaman/consultslot/libs/otel"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type Store interface {
	InsertReminder(ctx context.Context, job model.ReminderJob) (model.ReminderJob, error)
	CancelReminders(ctx context.Context, appointmentID string) (int, error)
	ClaimDueReminders(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]model.ReminderJob, error)
	MarkReminderFired(ctx context.Context, id int64) error
	MarkReminderDelivered(ctx context.Context, id int64, recipientID string) error
	MarkReminderFailed(ctx context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) (model.ReminderStatus, error)
	ListReminders(ctx context.Context, appointmentID string) ([]model.ReminderJob, error)
}

type Scheduler struct {
	store       Store
	offsets     []time.Duration
	maxAttempts int
	now         func() time.Time
}

type SchedulerConfig struct {
	Offsets     []time.Duration
	MaxAttempts int
}

func NewScheduler(store Store, cfg SchedulerConfig) *Scheduler {
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = []time.Duration{24 * time.Hour, time.Hour}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Scheduler{store: store, offsets: cfg.Offsets, maxAttempts: cfg.MaxAttempts, now: time.Now}
}

// Schedule registers a one-shot reminder. Scheduling the same appointment and
// fire time twice returns the existing job.
func (s *Scheduler) Schedule(ctx context.Context, appointmentID string, fireAt time.Time) (int64, error) {
	tc := otelx.TraceContextFrom(ctx)
	job, err := s.store.InsertReminder(ctx, model.ReminderJob{
		AppointmentID: appointmentID,
		FireAt:        fireAt.UTC(),
		MaxAttempts:   s.maxAttempts,
		Traceparent:   tc.Traceparent,
		Tracestate:    tc.Tracestate,
	})
	if err != nil {
		return 0, fmt.Errorf("schedule reminder for %s: %w", appointmentID, err)
	}
	return job.ID, nil
}

// CancelAll cancels every pending reminder of the appointment. Idempotent.
func (s *Scheduler) CancelAll(ctx context.Context, appointmentID string) error {
	if _, err := s.store.CancelReminders(ctx, appointmentID); err != nil {
		return fmt.Errorf("cancel reminders for %s: %w", appointmentID, err)
	}
	return nil
}

// ScheduleFor schedules one reminder per configured offset before startsAt,
// skipping fire times that have already passed.
func (s *Scheduler) ScheduleFor(ctx context.Context, appointmentID string, startsAt time.Time) ([]int64, error) {
	now := s.now().UTC()
	var ids []int64
	for _, offset := range s.offsets {
		fireAt := startsAt.Add(-offset)
		if !fireAt.After(now) {
			continue
		}
		id, err := s.Schedule(ctx, appointmentID, fireAt)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Scheduler) List(ctx context.Context, appointmentID string) ([]model.ReminderJob, error) {
	return s.store.ListReminders(ctx, appointmentID)
}
