// Package memstore is a process-local implementation of every booking storage
// port. It backs STORAGE_DRIVER=memory and the domain tests. All state lives
// behind one mutex, so each method is linearizable.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type Store struct {
	mu             sync.Mutex
	now            func() time.Time
	slots          map[string]model.Slot
	appointments   map[string]model.Appointment
	payments       map[string]model.Payment
	paymentOrder   []string
	reminders      map[int64]model.ReminderJob
	nextReminderID int64
	providerEvents map[string]struct{}
}

func New() *Store {
	return &Store{
		now:            time.Now,
		slots:          make(map[string]model.Slot),
		appointments:   make(map[string]model.Appointment),
		payments:       make(map[string]model.Payment),
		reminders:      make(map[int64]model.ReminderJob),
		providerEvents: make(map[string]struct{}),
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(context.Context) error { return nil }

// Slots

func (s *Store) CreateSlot(_ context.Context, slot model.Slot) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slots[slot.ID]; exists {
		return model.Slot{}, fmt.Errorf("slot %s already exists", slot.ID)
	}
	for _, other := range s.slots {
		if other.OwnerID == slot.OwnerID && other.StartsAt.Before(slot.EndsAt) && slot.StartsAt.Before(other.EndsAt) {
			return model.Slot{}, model.ErrSlotOverlap
		}
	}
	s.slots[slot.ID] = slot
	return slot, nil
}

func (s *Store) GetSlot(_ context.Context, id string) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return model.Slot{}, model.ErrSlotNotFound
	}
	return slot, nil
}

func (s *Store) ListSlots(_ context.Context, filter model.SlotFilter) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Slot
	for _, slot := range s.slots {
		if filter.OwnerID != "" && slot.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Date != "" && slot.Date != filter.Date {
			continue
		}
		if filter.Occupancy != "" && slot.Occupancy != filter.Occupancy {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) CompareAndSwapSlot(_ context.Context, tr model.Transition) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[tr.SlotID]
	if !ok {
		return model.Slot{}, model.ErrSlotNotFound
	}
	if slot.Occupancy != tr.From {
		return model.Slot{}, model.ErrStaleState
	}
	if tr.From != model.OccupancyFree && slot.AppointmentID != tr.AppointmentID {
		return model.Slot{}, model.ErrStaleState
	}
	slot.Occupancy = tr.To
	if tr.To == model.OccupancyFree {
		slot.AppointmentID = ""
	} else {
		slot.AppointmentID = tr.AppointmentID
	}
	slot.UpdatedAt = s.now().UTC()
	s.slots[slot.ID] = slot
	return slot, nil
}

// Appointments

func (s *Store) InsertAppointment(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.appointments[appt.ID]; exists {
		return model.Appointment{}, fmt.Errorf("appointment %s already exists", appt.ID)
	}
	for _, other := range s.appointments {
		if other.SlotID == appt.SlotID && other.Status != model.StatusCancelled {
			return model.Appointment{}, model.ErrSlotAlreadyBooked
		}
	}
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrAppointmentNotFound
	}
	return appt, nil
}

func (s *Store) UpdateAppointment(_ context.Context, appt model.Appointment, expect model.State) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.appointments[appt.ID]
	if !ok {
		return model.Appointment{}, model.ErrAppointmentNotFound
	}
	if cur.State() != expect {
		return model.Appointment{}, model.ErrStaleState
	}
	if appt.SlotID != cur.SlotID && appt.Status != model.StatusCancelled {
		for id, other := range s.appointments {
			if id != appt.ID && other.SlotID == appt.SlotID && other.Status != model.StatusCancelled {
				return model.Appointment{}, model.ErrSlotAlreadyBooked
			}
		}
	}
	appt.CreatedAt = cur.CreatedAt
	appt.UpdatedAt = s.now().UTC()
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) ListExpiredHolds(_ context.Context, before time.Time, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, appt := range s.appointments {
		if appt.Status == model.StatusHeld && appt.PaymentStatus == model.PaymentPending && appt.CreatedAt.Before(before) {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListAppointmentsByParty(_ context.Context, partyID string, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, appt := range s.appointments {
		if appt.OwnerID == partyID || appt.RequesterID == partyID {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Payments

func (s *Store) InsertPayment(_ context.Context, p model.Payment) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, other := range s.payments {
		if p.TransactionID != "" && other.TransactionID == p.TransactionID {
			return model.Payment{}, model.ErrDuplicatePayment
		}
		if p.AmountCents < 0 && other.AmountCents < 0 && other.CorrelationID == p.CorrelationID {
			return model.Payment{}, model.ErrDuplicatePayment
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.payments[p.ID] = p
	s.paymentOrder = append(s.paymentOrder, p.ID)
	return p, nil
}

func (s *Store) ListPayments(_ context.Context, appointmentID string) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Payment
	for _, id := range s.paymentOrder {
		if p := s.payments[id]; p.AppointmentID == appointmentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) MarkPaymentRefunded(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return fmt.Errorf("payment %s not found", id)
	}
	if p.Status != model.PaymentRecordCompleted {
		return model.ErrStaleState
	}
	p.Status = model.PaymentRecordRefunded
	s.payments[id] = p
	return nil
}

func (s *Store) RecordProviderEvent(_ context.Context, provider, eventID, _ string, _ []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + ":" + eventID
	if _, seen := s.providerEvents[key]; seen {
		return false, nil
	}
	s.providerEvents[key] = struct{}{}
	return true, nil
}

func (s *Store) ForgetProviderEvent(_ context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providerEvents, provider+":"+eventID)
	return nil
}

// Reminders

func (s *Store) InsertReminder(_ context.Context, job model.ReminderJob) (model.ReminderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reminders {
		if existing.AppointmentID == job.AppointmentID && existing.FireAt.Equal(job.FireAt) &&
			(existing.Status == model.ReminderPending || existing.Status == model.ReminderClaimed) {
			return existing, nil
		}
	}
	s.nextReminderID++
	job.ID = s.nextReminderID
	job.Status = model.ReminderPending
	job.NextRunAt = job.FireAt
	job.CreatedAt = s.now().UTC()
	s.reminders[job.ID] = job
	return job, nil
}

func (s *Store) CancelReminders(_ context.Context, appointmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.reminders {
		if job.AppointmentID != appointmentID {
			continue
		}
		if job.Status == model.ReminderPending || job.Status == model.ReminderClaimed {
			job.Status = model.ReminderCancelled
			s.reminders[id] = job
			n++
		}
	}
	return n, nil
}

func (s *Store) ClaimDueReminders(_ context.Context, now time.Time, staleAfter time.Duration, limit int) ([]model.ReminderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []model.ReminderJob
	for _, job := range s.reminders {
		switch job.Status {
		case model.ReminderPending:
			if job.NextRunAt.After(now) {
				continue
			}
		case model.ReminderClaimed:
			if job.NextRunAt.After(now.Add(-staleAfter)) {
				continue
			}
		default:
			continue
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = model.ReminderClaimed
		due[i].NextRunAt = now
		s.reminders[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *Store) MarkReminderFired(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.reminders[id]
	if !ok || job.Status != model.ReminderClaimed {
		return nil
	}
	job.Status = model.ReminderFired
	s.reminders[id] = job
	return nil
}

func (s *Store) MarkReminderDelivered(_ context.Context, id int64, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.reminders[id]
	if !ok || job.Status != model.ReminderClaimed || slices.Contains(job.DeliveredTo, recipientID) {
		return nil
	}
	job.DeliveredTo = append(slices.Clone(job.DeliveredTo), recipientID)
	s.reminders[id] = job
	return nil
}

func (s *Store) MarkReminderFailed(_ context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) (model.ReminderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.reminders[id]
	if !ok || job.Status != model.ReminderClaimed {
		return job.Status, nil
	}
	job.Attempts = attempts
	job.LastError = lastError
	job.NextRunAt = nextRunAt
	job.Status = model.ReminderPending
	if attempts >= job.MaxAttempts {
		job.Status = model.ReminderFailed
	}
	s.reminders[id] = job
	return job.Status, nil
}

func (s *Store) ListReminders(_ context.Context, appointmentID string) ([]model.ReminderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReminderJob
	for _, job := range s.reminders {
		if job.AppointmentID == appointmentID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
