package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/meetings"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/notify"
)

const meetingTitle = "Consultation"

// attachSessionLink provisions a session link, falling back to a placeholder,
// and stores it. Failures only cost the link.
func (s *Service) attachSessionLink(ctx context.Context, appt model.Appointment, slot model.Slot) model.Appointment {
	link := ""
	if s.meetings != nil {
		url, err := s.meetings.CreateMeeting(ctx, meetingTitle, slot.StartsAt, appt.DurationMinutes)
		if err != nil {
			s.logger.Warn("meeting provisioning failed, using placeholder", "appointment_id", appt.ID, "err", err)
		}
		link = url
	}
	if link == "" {
		link = meetings.Placeholder(s.fallbackURL)
	}

	next := appt
	next.SessionLink = link
	saved, err := s.store.UpdateAppointment(ctx, next, appt.State())
	if err != nil {
		s.logger.Warn("session link not stored", "appointment_id", appt.ID, "err", err)
		return appt
	}
	return saved
}

func (s *Service) scheduleReminders(ctx context.Context, appointmentID string, slot model.Slot) {
	if _, err := s.reminders.ScheduleFor(ctx, appointmentID, slot.StartsAt); err != nil {
		s.logger.Warn("reminder scheduling failed", "appointment_id", appointmentID, "err", err)
	}
}

func (s *Service) notifyBoth(ctx context.Context, appt model.Appointment, title, body string) {
	meta := notificationMeta(appt)
	notify.Send(ctx, s.notifier, s.logger,
		notify.Message{RecipientID: appt.RequesterID, Title: title, Body: body, Metadata: meta},
		notify.Message{RecipientID: appt.OwnerID, Title: title, Body: body, Metadata: meta},
	)
}

func (s *Service) notifyOne(ctx context.Context, recipientID string, appt model.Appointment, title, body string) {
	notify.Send(ctx, s.notifier, s.logger,
		notify.Message{RecipientID: recipientID, Title: title, Body: body, Metadata: notificationMeta(appt)})
}

func (s *Service) releaseSlot(ctx context.Context, slotID, appointmentID string) {
	if err := s.reservations.Release(ctx, slotID, appointmentID); err != nil {
		s.logger.Error("slot release failed", "slot_id", slotID, "appointment_id", appointmentID, "err", err)
	}
}

func notificationMeta(appt model.Appointment) map[string]string {
	meta := map[string]string{
		"appointment_id": appt.ID,
		"status":         string(appt.Status),
		"payment_status": string(appt.PaymentStatus),
	}
	if appt.SessionLink != "" {
		meta["session_link"] = appt.SessionLink
	}
	return meta
}

func formatStart(slot model.Slot) string {
	return slot.StartsAt.UTC().Format(time.RFC1123)
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
