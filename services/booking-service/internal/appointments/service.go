// Package appointments is the appointment state machine. Slot occupancy is
// changed only through the reservation manager; appointment rows are updated
// with a compare-and-set on their status pair and bound slot.
package appointments

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/meetings"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reservation"
)

// Store persists appointments. UpdateAppointment replaces the row only when
// its current state equals expect, otherwise it returns model.ErrStaleState.
type Store interface {
	InsertAppointment(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, appt model.Appointment, expect model.State) (model.Appointment, error)
	ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]model.Appointment, error)
	ListAppointmentsByParty(ctx context.Context, partyID string, limit int) ([]model.Appointment, error)
}

type Slots interface {
	Get(ctx context.Context, id string) (model.Slot, error)
}

type Reservations interface {
	Hold(ctx context.Context, slotID, appointmentID string) error
	Commit(ctx context.Context, slotID, appointmentID string) error
	Release(ctx context.Context, slotID, appointmentID string) error
	Transfer(ctx context.Context, oldSlotID, newSlotID, appointmentID string, opts reservation.TransferOptions) error
}

type Reminders interface {
	ScheduleFor(ctx context.Context, appointmentID string, startsAt time.Time) ([]int64, error)
	CancelAll(ctx context.Context, appointmentID string) error
}

// Settler refunds a cancelled, previously paid appointment.
type Settler interface {
	Settle(ctx context.Context, appointmentID string) (model.Settlement, error)
}

type Deps struct {
	Store        Store
	Slots        Slots
	Reservations Reservations
	Identity     identity.Resolver
	Meetings     meetings.Provisioner
	Reminders    Reminders
	Notifier     notify.Notifier
	Events       outbox.Emitter
	Logger       *slog.Logger
	// MeetingFallbackBaseURL prefixes placeholder session links.
	MeetingFallbackBaseURL string
}

type Service struct {
	store        Store
	slots        Slots
	reservations Reservations
	identity     identity.Resolver
	meetings     meetings.Provisioner
	reminders    Reminders
	notifier     notify.Notifier
	events       outbox.Emitter
	settler      Settler
	logger       *slog.Logger
	fallbackURL  string
	now          func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		store:        d.Store,
		slots:        d.Slots,
		reservations: d.Reservations,
		identity:     d.Identity,
		meetings:     d.Meetings,
		reminders:    d.Reminders,
		notifier:     d.Notifier,
		events:       d.Events,
		logger:       d.Logger,
		fallbackURL:  d.MeetingFallbackBaseURL,
		now:          time.Now,
	}
}

// SetSettler wires the payment side after construction; the payments gateway
// itself depends on this service.
func (s *Service) SetSettler(settler Settler) {
	s.settler = settler
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

func (s *Service) ListByParty(ctx context.Context, partyID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListAppointmentsByParty(ctx, partyID, limit)
}

// ExpiredHolds lists unpaid holds created before the cutoff.
func (s *Service) ExpiredHolds(ctx context.Context, before time.Time, limit int) ([]model.Appointment, error) {
	return s.store.ListExpiredHolds(ctx, before, limit)
}
