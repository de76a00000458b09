package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reservation"
)

// Reschedule moves a confirmed appointment to newSlotID. Either the
// appointment ends up bound to the new slot with the old one released, or
// nothing changes.
func (s *Service) Reschedule(ctx context.Context, appointmentID, newSlotID string, by model.Initiator) (model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.authorize(ctx, appt, by); err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.Active() {
		return model.Appointment{}, fmt.Errorf("reschedule %s in %s: %w", appt.ID, appt.Status, model.ErrInvalidTransition)
	}
	if newSlotID == appt.SlotID {
		return model.Appointment{}, fmt.Errorf("appointment %s already uses slot %s: %w", appt.ID, newSlotID, model.ErrInvalidTransition)
	}

	now := s.now().UTC()
	oldSlot, err := s.slots.Get(ctx, appt.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !oldSlot.StartsAt.After(now) {
		return model.Appointment{}, model.ErrPastAppointment
	}
	newSlot, err := s.slots.Get(ctx, newSlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	if newSlot.OwnerID != appt.OwnerID {
		return model.Appointment{}, model.ErrSlotOwnerMismatch
	}
	if !newSlot.StartsAt.After(now) {
		return model.Appointment{}, model.ErrPastAppointment
	}

	next := appt
	next.SlotID = newSlot.ID
	next.Status = model.StatusRescheduled
	var saved model.Appointment
	err = s.reservations.Transfer(ctx, appt.SlotID, newSlot.ID, appt.ID, reservation.TransferOptions{
		Commit: appt.PaymentStatus == model.PaymentCompleted,
		Rebind: func(ctx context.Context) error {
			var err error
			saved, err = s.store.UpdateAppointment(ctx, next, appt.State())
			return err
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrSlotUnavailable) {
			return model.Appointment{}, fmt.Errorf("%w: %w", model.ErrSlotAlreadyBooked, err)
		}
		return model.Appointment{}, err
	}
	s.logger.Info("appointment rescheduled", "appointment_id", saved.ID, "from_slot_id", oldSlot.ID, "to_slot_id", newSlot.ID, "initiator", string(by.Role))

	if err := s.reminders.CancelAll(ctx, saved.ID); err != nil {
		s.logger.Warn("reminder cancellation failed", "appointment_id", saved.ID, "err", err)
	} else {
		s.scheduleReminders(ctx, saved.ID, newSlot)
	}
	saved = s.attachSessionLink(ctx, saved, newSlot)
	s.notifyBoth(ctx, saved, "Appointment rescheduled",
		fmt.Sprintf("Your consultation moved from %s to %s.", formatStart(oldSlot), formatStart(newSlot)))
	return saved, nil
}

type CancelResult struct {
	Appointment model.Appointment
	// Settlement is set when a paid appointment was refunded.
	Settlement *model.Settlement
	// SettlementErr is set when the refund failed; the appointment is still
	// cancelled and flagged SettlementPending.
	SettlementErr error
}

// Cancel cancels an upcoming appointment on behalf of its requester, frees the
// slot and settles a completed payment.
func (s *Service) Cancel(ctx context.Context, appointmentID, requesterUserID string) (CancelResult, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return CancelResult{}, err
	}
	slot, err := s.slots.Get(ctx, appt.SlotID)
	if err != nil {
		return CancelResult{}, err
	}
	if !slot.StartsAt.After(s.now().UTC()) {
		return CancelResult{}, model.ErrPastAppointment
	}
	requesterID, err := s.identity.ResolveRequester(ctx, requesterUserID)
	if err != nil || requesterID != appt.RequesterID {
		return CancelResult{}, model.ErrUnauthorized
	}

	switch appt.Status {
	case model.StatusCancelled:
		if err := s.reservations.Release(ctx, appt.SlotID, appt.ID); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{Appointment: appt}, nil
	case model.StatusCompleted:
		return CancelResult{}, fmt.Errorf("cancel %s: %w", appt.ID, model.ErrInvalidTransition)
	}

	next := appt
	next.Status = model.StatusCancelled
	if next.PaymentStatus == model.PaymentPending {
		next.PaymentStatus = model.PaymentCancelled
	}
	cancelled, err := s.store.UpdateAppointment(ctx, next, appt.State())
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel appointment %s: %w", appt.ID, err)
	}
	if err := s.reminders.CancelAll(ctx, cancelled.ID); err != nil {
		s.logger.Warn("reminder cancellation failed", "appointment_id", cancelled.ID, "err", err)
	}
	if err := s.reservations.Release(ctx, cancelled.SlotID, cancelled.ID); err != nil {
		return CancelResult{}, fmt.Errorf("release slot for cancelled %s: %w", cancelled.ID, err)
	}
	s.logger.Info("appointment cancelled", "appointment_id", cancelled.ID, "slot_id", cancelled.SlotID)

	res := CancelResult{Appointment: cancelled}
	if cancelled.PaymentStatus == model.PaymentCompleted {
		res = s.settle(ctx, cancelled)
	}

	body := fmt.Sprintf("The consultation on %s was cancelled.", formatStart(slot))
	if res.Settlement != nil {
		body += fmt.Sprintf(" Refund: %s.", formatCents(res.Settlement.RefundCents))
	}
	s.notifyBoth(ctx, res.Appointment, "Appointment cancelled", body)
	return res, nil
}

func (s *Service) settle(ctx context.Context, appt model.Appointment) CancelResult {
	res := CancelResult{Appointment: appt}
	if s.settler == nil {
		res.SettlementErr = errors.New("no settler configured")
	} else if settlement, err := s.settler.Settle(ctx, appt.ID); err != nil {
		res.SettlementErr = err
	} else {
		res.Settlement = &settlement
		if refreshed, err := s.store.GetAppointment(ctx, appt.ID); err == nil {
			res.Appointment = refreshed
		}
		return res
	}

	s.logger.Warn("settlement failed, flagged for reconciliation", "appointment_id", appt.ID, "err", res.SettlementErr)
	flagged := appt
	flagged.SettlementPending = true
	if saved, err := s.store.UpdateAppointment(ctx, flagged, appt.State()); err != nil {
		s.logger.Error("flag settlement pending failed", "appointment_id", appt.ID, "err", err)
	} else {
		res.Appointment = saved
	}
	s.emitSettlementFailed(ctx, appt, res.SettlementErr)
	return res
}

func (s *Service) emitSettlementFailed(ctx context.Context, appt model.Appointment, cause error) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"requester_id":   appt.RequesterID,
		"owner_id":       appt.OwnerID,
		"amount_cents":   appt.PriceCents,
		"error_reason":   cause.Error(),
		"failed_at":      s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.events.Emit(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.TopicSettlementFailed,
		Payload:       payload,
	}); err != nil {
		s.logger.Error("settlement failure event not recorded", "appointment_id", appt.ID, "err", err)
	}
}

// Complete marks a confirmed appointment as done. The slot stays booked.
func (s *Service) Complete(ctx context.Context, appointmentID, ownerUserID string) (model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	ownerID, err := s.identity.ResolveOwner(ctx, ownerUserID)
	if err != nil || ownerID != appt.OwnerID {
		return model.Appointment{}, model.ErrUnauthorized
	}
	if appt.Status == model.StatusCompleted {
		return appt, nil
	}
	if !appt.Status.Active() {
		return model.Appointment{}, fmt.Errorf("complete %s in %s: %w", appt.ID, appt.Status, model.ErrInvalidTransition)
	}

	next := appt
	next.Status = model.StatusCompleted
	done, err := s.store.UpdateAppointment(ctx, next, appt.State())
	if err != nil {
		return model.Appointment{}, fmt.Errorf("complete appointment %s: %w", appt.ID, err)
	}
	if err := s.reminders.CancelAll(ctx, done.ID); err != nil {
		s.logger.Warn("reminder cancellation failed", "appointment_id", done.ID, "err", err)
	}
	s.logger.Info("appointment completed", "appointment_id", done.ID)
	return done, nil
}

// Expire cancels an unpaid hold and frees its slot. It reports false when the
// appointment is no longer an unpaid hold, so concurrent sweeps count it once.
func (s *Service) Expire(ctx context.Context, appt model.Appointment) (bool, error) {
	if appt.Status != model.StatusHeld || appt.PaymentStatus != model.PaymentPending {
		return false, nil
	}
	next := appt
	next.Status = model.StatusCancelled
	next.PaymentStatus = model.PaymentCancelled
	expired, err := s.store.UpdateAppointment(ctx, next, appt.State())
	if errors.Is(err, model.ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("expire appointment %s: %w", appt.ID, err)
	}
	if err := s.reservations.Release(ctx, expired.SlotID, expired.ID); err != nil {
		return true, fmt.Errorf("release slot for expired %s: %w", expired.ID, err)
	}
	if err := s.reminders.CancelAll(ctx, expired.ID); err != nil {
		s.logger.Warn("reminder cancellation failed", "appointment_id", expired.ID, "err", err)
	}
	s.notifyOne(ctx, expired.RequesterID, expired, "Booking expired",
		"Your slot hold expired before payment was received.")
	return true, nil
}

// MarkRefunded records that a cancelled appointment's payment was refunded.
// Marking an already refunded appointment returns it unchanged.
func (s *Service) MarkRefunded(ctx context.Context, appointmentID string) (model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.PaymentStatus == model.PaymentRefunded {
		return appt, nil
	}
	if appt.PaymentStatus != model.PaymentCompleted {
		return model.Appointment{}, model.ErrNotPaid
	}
	next := appt
	next.PaymentStatus = model.PaymentRefunded
	next.SettlementPending = false
	saved, err := s.store.UpdateAppointment(ctx, next, appt.State())
	if errors.Is(err, model.ErrStaleState) {
		if cur, getErr := s.store.GetAppointment(ctx, appointmentID); getErr == nil && cur.PaymentStatus == model.PaymentRefunded {
			return cur, nil
		}
	}
	return saved, err
}

func (s *Service) authorize(ctx context.Context, appt model.Appointment, by model.Initiator) error {
	var (
		partyID string
		err     error
		want    string
	)
	switch by.Role {
	case model.RoleOwner:
		partyID, err = s.identity.ResolveOwner(ctx, by.UserID)
		want = appt.OwnerID
	case model.RoleRequester:
		partyID, err = s.identity.ResolveRequester(ctx, by.UserID)
		want = appt.RequesterID
	default:
		return model.ErrUnauthorized
	}
	if err != nil || partyID != want {
		return model.ErrUnauthorized
	}
	return nil
}
