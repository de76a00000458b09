package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

const slotColumns = `id::text, owner_id, to_char(slot_date, 'YYYY-MM-DD'), starts_at, ends_at, occupancy,
	COALESCE(appointment_id::text, ''), created_at, updated_at`

func scanSlot(row scanner) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.OwnerID, &s.Date, &s.StartsAt, &s.EndsAt, &s.Occupancy, &s.AppointmentID, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (s *Store) CreateSlot(ctx context.Context, slot model.Slot) (model.Slot, error) {
	created, err := scanSlot(s.pool.QueryRow(ctx, `
		INSERT INTO slots (id, owner_id, slot_date, starts_at, ends_at, occupancy, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $7)
		RETURNING `+slotColumns,
		slot.ID, slot.OwnerID, slot.Date, slot.StartsAt, slot.EndsAt, slot.Occupancy, slot.CreatedAt))
	if err != nil {
		if db.IsExclusionViolation(err) {
			return model.Slot{}, model.ErrSlotOverlap
		}
		return model.Slot{}, fmt.Errorf("insert slot: %w", err)
	}
	return created, nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Slot{}, model.ErrSlotNotFound
	}
	slot, err := scanSlot(s.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if db.IsNoRows(err) || db.IsInvalidInput(err) {
		return model.Slot{}, model.ErrSlotNotFound
	}
	return slot, err
}

func (s *Store) ListSlots(ctx context.Context, filter model.SlotFilter) ([]model.Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE ($1 = '' OR owner_id = $1)
		  AND ($2 = '' OR slot_date = NULLIF($2, '')::date)
		  AND ($3 = '' OR occupancy = $3)
		ORDER BY starts_at
	`, filter.OwnerID, filter.Date, string(filter.Occupancy))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// CompareAndSwapSlot applies tr only if the row still has tr.From occupancy
// (and, when leaving Held or Booked, still belongs to tr.AppointmentID).
func (s *Store) CompareAndSwapSlot(ctx context.Context, tr model.Transition) (model.Slot, error) {
	if _, err := uuid.Parse(tr.SlotID); err != nil {
		return model.Slot{}, model.ErrSlotNotFound
	}
	slot, err := scanSlot(s.pool.QueryRow(ctx, `
		UPDATE slots
		SET occupancy = $3,
			appointment_id = CASE WHEN $3 = 'free' THEN NULL ELSE $4::uuid END,
			updated_at = now()
		WHERE id = $1
		  AND occupancy = $2
		  AND ($2 = 'free' OR appointment_id = $4::uuid)
		RETURNING `+slotColumns,
		tr.SlotID, string(tr.From), string(tr.To), tr.AppointmentID))
	if err == nil {
		return slot, nil
	}
	if !db.IsNoRows(err) {
		if db.IsInvalidInput(err) {
			return model.Slot{}, model.ErrStaleState
		}
		return model.Slot{}, fmt.Errorf("swap slot %s: %w", tr.SlotID, err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, tr.SlotID).Scan(&exists); err != nil {
		return model.Slot{}, err
	}
	if !exists {
		return model.Slot{}, model.ErrSlotNotFound
	}
	return model.Slot{}, model.ErrStaleState
}
