// Package reservation enforces at most one active reservation per slot on top
// of the slot registry's compare-and-swap.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type Slots interface {
	Get(ctx context.Context, id string) (model.Slot, error)
	Transition(ctx context.Context, tr model.Transition) (model.Slot, error)
}

type Manager struct {
	slots  Slots
	logger *slog.Logger
}

func NewManager(slots Slots, logger *slog.Logger) *Manager {
	return &Manager{slots: slots, logger: logger}
}

// Hold claims a free slot for appointmentID. A lost race is reported as
// model.ErrSlotUnavailable and never retried.
func (m *Manager) Hold(ctx context.Context, slotID, appointmentID string) error {
	_, err := m.slots.Transition(ctx, model.Transition{
		SlotID:        slotID,
		From:          model.OccupancyFree,
		To:            model.OccupancyHeld,
		AppointmentID: appointmentID,
	})
	if errors.Is(err, model.ErrStaleState) {
		return fmt.Errorf("hold slot %s: %w", slotID, model.ErrSlotUnavailable)
	}
	return err
}

// Commit turns the hold into a booking. Committing a slot already booked by
// the same appointment is a no-op.
func (m *Manager) Commit(ctx context.Context, slotID, appointmentID string) error {
	_, err := m.slots.Transition(ctx, model.Transition{
		SlotID:        slotID,
		From:          model.OccupancyHeld,
		To:            model.OccupancyBooked,
		AppointmentID: appointmentID,
	})
	if !errors.Is(err, model.ErrStaleState) {
		return err
	}
	cur, getErr := m.slots.Get(ctx, slotID)
	if getErr == nil && cur.Occupancy == model.OccupancyBooked && cur.AppointmentID == appointmentID {
		return nil
	}
	return fmt.Errorf("commit slot %s: %w", slotID, model.ErrSlotNotHeld)
}

// Release frees the slot if it is still bound to appointmentID. A slot that is
// already free or has been reassigned is left alone.
func (m *Manager) Release(ctx context.Context, slotID, appointmentID string) error {
	for _, from := range []model.Occupancy{model.OccupancyBooked, model.OccupancyHeld} {
		_, err := m.slots.Transition(ctx, model.Transition{
			SlotID:        slotID,
			From:          from,
			To:            model.OccupancyFree,
			AppointmentID: appointmentID,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrStaleState) {
			return fmt.Errorf("release slot %s: %w", slotID, err)
		}
	}

	cur, err := m.slots.Get(ctx, slotID)
	if err != nil {
		return fmt.Errorf("release slot %s: %w", slotID, err)
	}
	if cur.Occupancy != model.OccupancyFree && cur.AppointmentID == appointmentID {
		// Lost a race with a concurrent transition of our own binding.
		return fmt.Errorf("release slot %s: %w", slotID, model.ErrStaleState)
	}
	return nil
}

// TransferOptions controls how the new slot is secured.
type TransferOptions struct {
	// Commit books the new slot immediately (the appointment is already paid).
	Commit bool
	// Rebind persists the appointment's new slot reference. If it fails the new
	// slot is released and the old slot is left untouched.
	Rebind func(ctx context.Context) error
}

// Transfer moves appointmentID from oldSlotID to newSlotID. The new slot is
// secured before the old one is released.
func (m *Manager) Transfer(ctx context.Context, oldSlotID, newSlotID, appointmentID string, opts TransferOptions) error {
	if err := m.Hold(ctx, newSlotID, appointmentID); err != nil {
		return err
	}
	if opts.Commit {
		if err := m.Commit(ctx, newSlotID, appointmentID); err != nil {
			m.rollback(ctx, newSlotID, appointmentID)
			return err
		}
	}
	if opts.Rebind != nil {
		if err := opts.Rebind(ctx); err != nil {
			m.rollback(ctx, newSlotID, appointmentID)
			return err
		}
	}
	if err := m.Release(ctx, oldSlotID, appointmentID); err != nil {
		// The appointment already points at the new slot; the old one stays
		// bound to it until an operator frees it.
		m.logger.Error("release of previous slot failed", "slot_id", oldSlotID, "appointment_id", appointmentID, "err", err)
	}
	return nil
}

func (m *Manager) rollback(ctx context.Context, slotID, appointmentID string) {
	if err := m.Release(ctx, slotID, appointmentID); err != nil {
		m.logger.Error("rollback of new slot failed", "slot_id", slotID, "appointment_id", appointmentID, "err", err)
	}
}
