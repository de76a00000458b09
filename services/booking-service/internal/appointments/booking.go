package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type BookingRequest struct {
	RequesterUserID string
	OwnerUserID     string
	SlotID          string
	PriceCents      int64
	DurationMinutes int
	Notes           string
}

// RequestBooking holds the slot and records a Held/Pending appointment.
func (s *Service) RequestBooking(ctx context.Context, req BookingRequest) (model.Appointment, error) {
	if req.PriceCents <= 0 {
		return model.Appointment{}, model.ErrInvalidAmount
	}
	ownerID, err := s.identity.ResolveOwner(ctx, req.OwnerUserID)
	if err != nil {
		return model.Appointment{}, err
	}
	requesterID, err := s.identity.ResolveRequester(ctx, req.RequesterUserID)
	if err != nil {
		return model.Appointment{}, err
	}

	slot, err := s.slots.Get(ctx, req.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	if slot.OwnerID != ownerID {
		return model.Appointment{}, fmt.Errorf("slot %s is not offered by %s: %w", slot.ID, ownerID, model.ErrSlotNotFound)
	}
	now := s.now().UTC()
	if !slot.StartsAt.After(now) {
		return model.Appointment{}, model.ErrPastAppointment
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = int(slot.EndsAt.Sub(slot.StartsAt).Minutes())
	}

	appt := model.Appointment{
		ID:              uuid.NewString(),
		RequesterID:     requesterID,
		OwnerID:         ownerID,
		SlotID:          slot.ID,
		PriceCents:      req.PriceCents,
		DurationMinutes: duration,
		Status:          model.StatusHeld,
		PaymentStatus:   model.PaymentPending,
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.reservations.Hold(ctx, slot.ID, appt.ID); err != nil {
		if errors.Is(err, model.ErrSlotUnavailable) {
			return model.Appointment{}, fmt.Errorf("%w: %w", model.ErrSlotAlreadyBooked, err)
		}
		return model.Appointment{}, err
	}

	saved, err := s.store.InsertAppointment(ctx, appt)
	if err != nil {
		s.releaseSlot(ctx, slot.ID, appt.ID)
		return model.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}
	s.logger.Info("appointment held", "appointment_id", saved.ID, "slot_id", slot.ID, "owner_id", ownerID, "requester_id", requesterID)
	return saved, nil
}

// CapturePayment books the held slot and confirms the appointment. Session
// link, reminders and notifications are best-effort afterwards.
func (s *Service) CapturePayment(ctx context.Context, appointmentID string) (model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.PaymentStatus == model.PaymentCompleted && (appt.Status.Active() || appt.Status == model.StatusCompleted) {
		return appt, nil
	}
	if appt.Status != model.StatusHeld || appt.PaymentStatus != model.PaymentPending {
		return model.Appointment{}, fmt.Errorf("capture %s in %s/%s: %w", appt.ID, appt.Status, appt.PaymentStatus, model.ErrInvalidTransition)
	}

	if err := s.reservations.Commit(ctx, appt.SlotID, appt.ID); err != nil {
		return model.Appointment{}, err
	}

	next := appt
	next.Status = model.StatusConfirmed
	next.PaymentStatus = model.PaymentCompleted
	confirmed, err := s.store.UpdateAppointment(ctx, next, appt.State())
	if errors.Is(err, model.ErrStaleState) {
		return s.resolveStaleCapture(ctx, appt)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("confirm appointment %s: %w", appt.ID, err)
	}
	s.logger.Info("appointment confirmed", "appointment_id", confirmed.ID, "slot_id", confirmed.SlotID)

	slot, err := s.slots.Get(ctx, confirmed.SlotID)
	if err != nil {
		s.logger.Warn("slot lookup after confirm failed", "appointment_id", confirmed.ID, "err", err)
		return confirmed, nil
	}
	confirmed = s.attachSessionLink(ctx, confirmed, slot)
	s.scheduleReminders(ctx, confirmed.ID, slot)
	s.notifyBoth(ctx, confirmed, "Appointment confirmed",
		fmt.Sprintf("Your consultation on %s is confirmed.", formatStart(slot)))
	return confirmed, nil
}

// resolveStaleCapture handles a confirm that lost its compare-and-set. A
// concurrent capture of the same appointment makes this one a replay; a hold
// reaped or cancelled in between gets its slot released.
func (s *Service) resolveStaleCapture(ctx context.Context, held model.Appointment) (model.Appointment, error) {
	cur, err := s.store.GetAppointment(ctx, held.ID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("confirm appointment %s: %w", held.ID, err)
	}
	if cur.PaymentStatus == model.PaymentCompleted && (cur.Status.Active() || cur.Status == model.StatusCompleted) {
		return cur, nil
	}
	if cur.Status == model.StatusCancelled {
		s.releaseSlot(ctx, held.SlotID, held.ID)
	}
	return model.Appointment{}, fmt.Errorf("confirm appointment %s in %s/%s: %w", held.ID, cur.Status, cur.PaymentStatus, model.ErrStaleState)
}
