package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

const appointmentColumns = `id::text, requester_id, owner_id, slot_id::text, price_cents, duration_minutes,
	status, payment_status, session_link, notes, settlement_pending, created_at, updated_at`

func scanAppointment(row scanner) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.RequesterID, &a.OwnerID, &a.SlotID, &a.PriceCents, &a.DurationMinutes,
		&a.Status, &a.PaymentStatus, &a.SessionLink, &a.Notes, &a.SettlementPending, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) InsertAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	created, err := scanAppointment(s.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, requester_id, owner_id, slot_id, price_cents, duration_minutes, status, payment_status,
			 session_link, notes, settlement_pending, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING `+appointmentColumns,
		appt.ID, appt.RequesterID, appt.OwnerID, appt.SlotID, appt.PriceCents, appt.DurationMinutes,
		string(appt.Status), string(appt.PaymentStatus), appt.SessionLink, appt.Notes, appt.SettlementPending, appt.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.Appointment{}, model.ErrSlotAlreadyBooked
		}
		return model.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, model.ErrAppointmentNotFound
	}
	appt, err := scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return model.Appointment{}, model.ErrAppointmentNotFound
	}
	return appt, err
}

// UpdateAppointment writes appt only if the stored status pair and slot still
// equal expect.
func (s *Store) UpdateAppointment(ctx context.Context, appt model.Appointment, expect model.State) (model.Appointment, error) {
	saved, err := scanAppointment(s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
			status = $3,
			payment_status = $4,
			session_link = $5,
			notes = $6,
			settlement_pending = $7,
			duration_minutes = $8,
			updated_at = now()
		WHERE id = $1 AND status = $9 AND payment_status = $10 AND slot_id = $11
		RETURNING `+appointmentColumns,
		appt.ID, appt.SlotID, string(appt.Status), string(appt.PaymentStatus), appt.SessionLink, appt.Notes,
		appt.SettlementPending, appt.DurationMinutes, string(expect.Status), string(expect.PaymentStatus), expect.SlotID))
	if err == nil {
		return saved, nil
	}
	if db.IsUniqueViolation(err) {
		return model.Appointment{}, model.ErrSlotAlreadyBooked
	}
	if !db.IsNoRows(err) {
		return model.Appointment{}, fmt.Errorf("update appointment %s: %w", appt.ID, err)
	}
	if _, err := s.GetAppointment(ctx, appt.ID); err != nil {
		return model.Appointment{}, err
	}
	return model.Appointment{}, model.ErrStaleState
}

func (s *Store) ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'held' AND payment_status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
}

func (s *Store) ListAppointmentsByParty(ctx context.Context, partyID string, limit int) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE owner_id = $1 OR requester_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, partyID, limit)
}

func (s *Store) queryAppointments(ctx context.Context, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}
