package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

const reminderColumns = `id, appointment_id, fire_at, status, attempts, max_attempts, next_run_at,
	last_error, traceparent, tracestate, delivered_to, created_at`

func scanReminder(row scanner) (model.ReminderJob, error) {
	var j model.ReminderJob
	err := row.Scan(&j.ID, &j.AppointmentID, &j.FireAt, &j.Status, &j.Attempts, &j.MaxAttempts, &j.NextRunAt,
		&j.LastError, &j.Traceparent, &j.Tracestate, &j.DeliveredTo, &j.CreatedAt)
	return j, err
}

// InsertReminder creates a pending job. A live job for the same appointment
// and fire time is returned instead of a duplicate.
func (s *Store) InsertReminder(ctx context.Context, job model.ReminderJob) (model.ReminderJob, error) {
	saved, err := scanReminder(s.pool.QueryRow(ctx, `
		INSERT INTO reminder_jobs (appointment_id, fire_at, status, max_attempts, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, 'pending', $3, $2, $4, $5)
		ON CONFLICT (appointment_id, fire_at) WHERE status IN ('pending', 'claimed') DO NOTHING
		RETURNING `+reminderColumns,
		job.AppointmentID, job.FireAt, job.MaxAttempts, job.Traceparent, job.Tracestate))
	if err == nil {
		return saved, nil
	}
	if !db.IsNoRows(err) {
		return model.ReminderJob{}, fmt.Errorf("insert reminder: %w", err)
	}
	return scanReminder(s.pool.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminder_jobs
		WHERE appointment_id = $1 AND fire_at = $2 AND status IN ('pending', 'claimed')
	`, job.AppointmentID, job.FireAt))
}

func (s *Store) CancelReminders(ctx context.Context, appointmentID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1 AND status IN ('pending', 'claimed')
	`, appointmentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ClaimDueReminders marks due jobs claimed. Jobs claimed longer than
// staleAfter ago are assumed abandoned by a crashed worker and reclaimed.
func (s *Store) ClaimDueReminders(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]model.ReminderJob, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM reminder_jobs
			WHERE (status = 'pending' AND next_run_at <= $1)
			   OR (status = 'claimed' AND next_run_at <= $2)
			ORDER BY next_run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reminder_jobs j
		SET status = 'claimed', next_run_at = $1, updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.appointment_id, j.fire_at, j.status, j.attempts, j.max_attempts, j.next_run_at,
			j.last_error, j.traceparent, j.tracestate, j.delivered_to, j.created_at
	`, now, now.Add(-staleAfter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.ReminderJob
	for rows.Next() {
		j, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) MarkReminderFired(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'fired', updated_at = now()
		WHERE id = $1 AND status = 'claimed'
	`, id)
	return err
}

// MarkReminderDelivered records that the claimed job reached recipientID.
func (s *Store) MarkReminderDelivered(ctx context.Context, id int64, recipientID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET delivered_to = array_append(delivered_to, $2), updated_at = now()
		WHERE id = $1 AND status = 'claimed' AND NOT ($2 = ANY (delivered_to))
	`, id, recipientID)
	return err
}

func (s *Store) MarkReminderFailed(ctx context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) (model.ReminderStatus, error) {
	var status model.ReminderStatus
	err := s.pool.QueryRow(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
			status = CASE WHEN $2 >= max_attempts THEN 'failed' ELSE 'pending' END,
			next_run_at = $3,
			last_error = $4,
			updated_at = now()
		WHERE id = $1 AND status = 'claimed'
		RETURNING status
	`, id, attempts, nextRunAt, lastError).Scan(&status)
	if err == nil {
		return status, nil
	}
	if !db.IsNoRows(err) {
		return "", err
	}
	err = s.pool.QueryRow(ctx, `SELECT status FROM reminder_jobs WHERE id = $1`, id).Scan(&status)
	if db.IsNoRows(err) {
		return "", nil
	}
	return status, err
}

func (s *Store) ListReminders(ctx context.Context, appointmentID string) ([]model.ReminderJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminder_jobs
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ReminderJob
	for rows.Next() {
		j, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
