package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

func scanPayment(row scanner) (model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.AppointmentID, &p.AmountCents, &p.Method, &p.Status, &p.TransactionID, &p.CorrelationID, &p.CreatedAt)
	return p, err
}

const paymentColumns = `id::text, appointment_id::text, amount_cents, method, status, transaction_id, correlation_id, created_at`

// InsertPayment records a payment row. A transaction id already on file, or a
// second refund against the same original payment, is model.ErrDuplicatePayment.
func (s *Store) InsertPayment(ctx context.Context, p model.Payment) (model.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	saved, err := scanPayment(s.pool.QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, amount_cents, method, status, transaction_id, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+paymentColumns,
		p.ID, p.AppointmentID, p.AmountCents, p.Method, string(p.Status), p.TransactionID, p.CorrelationID))
	if db.IsUniqueViolation(err) {
		return model.Payment{}, fmt.Errorf("insert payment %s: %w", p.TransactionID, model.ErrDuplicatePayment)
	}
	if err != nil {
		return model.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return saved, nil
}

// ListPayments returns the appointment's payment rows in insertion order.
func (s *Store) ListPayments(ctx context.Context, appointmentID string) ([]model.Payment, error) {
	if _, err := uuid.Parse(appointmentID); err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1
		ORDER BY seq
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) MarkPaymentRefunded(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments
		SET status = 'refunded'
		WHERE id = $1 AND status = 'completed'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("payment %s not found", id)
	}
	return model.ErrStaleState
}

// RecordProviderEvent stores a processor webhook event id. It reports false
// when the event was already recorded.
func (s *Store) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO provider_events (provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetProviderEvent drops a recorded event so the provider's retry is
// processed again.
func (s *Store) ForgetProviderEvent(ctx context.Context, provider, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM provider_events WHERE provider = $1 AND event_id = $2`, provider, eventID)
	return err
}
