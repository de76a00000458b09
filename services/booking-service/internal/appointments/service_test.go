package appointments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/memstore"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reminders"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/slots"
)

var now = time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeMeetings struct{ err error }

func (f fakeMeetings) CreateMeeting(context.Context, string, time.Time, int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://meet.example/room", nil
}

type fakeSettler struct {
	calls int
	err   error
	store *memstore.Store
}

func (f *fakeSettler) Settle(ctx context.Context, id string) (model.Settlement, error) {
	f.calls++
	if f.err != nil {
		return model.Settlement{}, f.err
	}
	appt, _ := f.store.GetAppointment(ctx, id)
	next := appt
	next.PaymentStatus = model.PaymentRefunded
	_, _ = f.store.UpdateAppointment(ctx, next, appt.State())
	return model.Settlement{RefundCents: appt.PriceCents * 8 / 10, PenaltyCents: appt.PriceCents - appt.PriceCents*8/10}, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (c *captureEmitter) Emit(_ context.Context, evt outbox.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

type harness struct {
	svc      *Service
	store    *memstore.Store
	registry *slots.Registry
	sched    *reminders.Scheduler
	notes    *notify.Recorder
	events   *captureEmitter
	settler  *fakeSettler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	store.SetClock(func() time.Time { return now })
	registry := slots.NewRegistry(store, time.UTC)
	ids := identity.NewStatic()
	ids.AddOwner("u-doc", "doc-1")
	ids.AddOwner("u-doc2", "doc-2")
	ids.AddRequester("u-pat", "pat-1")
	ids.AddRequester("u-pat2", "pat-2")
	sched := reminders.NewScheduler(store, reminders.SchedulerConfig{Offsets: []time.Duration{24 * time.Hour, time.Hour}})
	h := &harness{
		store:    store,
		registry: registry,
		sched:    sched,
		notes:    &notify.Recorder{},
		events:   &captureEmitter{},
		settler:  &fakeSettler{store: store},
	}
	h.svc = NewService(Deps{
		Store:        store,
		Slots:        registry,
		Reservations: reservation.NewManager(registry, logger),
		Identity:     ids,
		Meetings:     fakeMeetings{},
		Reminders:    sched,
		Notifier:     h.notes,
		Events:       h.events,
		Logger:       logger,
	})
	h.svc.now = func() time.Time { return now }
	h.svc.SetSettler(h.settler)
	return h
}

func (h *harness) slot(t *testing.T, owner string, startIn time.Duration) model.Slot {
	t.Helper()
	start := now.Add(startIn)
	s, err := h.registry.Create(context.Background(), slots.NewSlot{OwnerID: owner, StartsAt: start, EndsAt: start.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return s
}

func (h *harness) book(t *testing.T, slotID string) model.Appointment {
	t.Helper()
	appt, err := h.svc.RequestBooking(context.Background(), BookingRequest{
		RequesterUserID: "u-pat",
		OwnerUserID:     "u-doc",
		SlotID:          slotID,
		PriceCents:      2800,
		Notes:           " headaches ",
	})
	if err != nil {
		t.Fatalf("request booking: %v", err)
	}
	return appt
}

func (h *harness) occupancy(t *testing.T, slotID string) model.Occupancy {
	t.Helper()
	s, err := h.registry.Get(context.Background(), slotID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	return s.Occupancy
}

func TestRequestBookingHoldsSlot(t *testing.T) {
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	if appt.Status != model.StatusHeld || appt.PaymentStatus != model.PaymentPending {
		t.Fatalf("expected held/pending, got %s/%s", appt.Status, appt.PaymentStatus)
	}
	if appt.DurationMinutes != 30 || appt.Notes != "headaches" {
		t.Fatalf("unexpected duration/notes: %d %q", appt.DurationMinutes, appt.Notes)
	}
	if got := h.occupancy(t, s.ID); got != model.OccupancyHeld {
		t.Fatalf("expected held slot, got %s", got)
	}
}

func TestRequestBookingFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	other := h.slot(t, "doc-2", 72*time.Hour)
	past := h.slot(t, "doc-1", -time.Hour)
	h.book(t, s.ID)

	cases := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"taken", BookingRequest{RequesterUserID: "u-pat2", OwnerUserID: "u-doc", SlotID: s.ID, PriceCents: 100}, model.ErrSlotAlreadyBooked},
		{"unknown owner", BookingRequest{RequesterUserID: "u-pat", OwnerUserID: "nobody", SlotID: s.ID, PriceCents: 100}, model.ErrOwnerNotFound},
		{"unknown requester", BookingRequest{RequesterUserID: "nobody", OwnerUserID: "u-doc", SlotID: s.ID, PriceCents: 100}, model.ErrRequesterNotFound},
		{"unknown slot", BookingRequest{RequesterUserID: "u-pat", OwnerUserID: "u-doc", SlotID: "missing", PriceCents: 100}, model.ErrSlotNotFound},
		{"other owner's slot", BookingRequest{RequesterUserID: "u-pat", OwnerUserID: "u-doc", SlotID: other.ID, PriceCents: 100}, model.ErrSlotNotFound},
		{"past slot", BookingRequest{RequesterUserID: "u-pat", OwnerUserID: "u-doc", SlotID: past.ID, PriceCents: 100}, model.ErrPastAppointment},
		{"zero price", BookingRequest{RequesterUserID: "u-pat", OwnerUserID: "u-doc", SlotID: s.ID}, model.ErrInvalidAmount},
	}
	for _, tc := range cases {
		if _, err := h.svc.RequestBooking(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestConcurrentBookingsOneWinner(t *testing.T) {
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)

	const n = 32
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RequestBooking(context.Background(), BookingRequest{RequesterUserID: "u-pat", OwnerUserID: "u-doc", SlotID: s.ID, PriceCents: 100})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrSlotAlreadyBooked):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || conflicts.Load() != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", n-1, wins.Load(), conflicts.Load())
	}
	active, _ := h.svc.ListByParty(context.Background(), "pat-1", 100)
	if len(active) != 1 {
		t.Fatalf("expected exactly one appointment, got %d", len(active))
	}
}

func TestCapturePaymentConfirmsAndSchedules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	got, err := h.svc.CapturePayment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if got.Status != model.StatusConfirmed || got.PaymentStatus != model.PaymentCompleted {
		t.Fatalf("expected confirmed/completed, got %s/%s", got.Status, got.PaymentStatus)
	}
	if got.SessionLink != "https://meet.example/room" {
		t.Fatalf("expected provisioned link, got %q", got.SessionLink)
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyBooked {
		t.Fatalf("expected booked slot, got %s", occ)
	}
	jobs, _ := h.sched.List(ctx, appt.ID)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(jobs))
	}
	if len(h.notes.Sent()) != 2 {
		t.Fatalf("expected both parties notified, got %d", len(h.notes.Sent()))
	}

	again, err := h.svc.CapturePayment(ctx, appt.ID)
	if err != nil || again.Status != model.StatusConfirmed {
		t.Fatalf("expected idempotent capture, got %s (%v)", again.Status, err)
	}
}

func TestCapturePaymentFallsBackToPlaceholderLink(t *testing.T) {
	h := newHarness(t)
	h.svc.meetings = fakeMeetings{err: errors.New("provider down")}
	h.svc.fallbackURL = "https://fallback.local/s"
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	got, err := h.svc.CapturePayment(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("capture should not fail on provider outage: %v", err)
	}
	if len(got.SessionLink) <= len("https://fallback.local/s/") {
		t.Fatalf("expected placeholder link, got %q", got.SessionLink)
	}
}

func TestCapturePaymentAfterExpiryFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)
	if ok, err := h.svc.Expire(ctx, appt); !ok || err != nil {
		t.Fatalf("expire: %v %v", ok, err)
	}
	if _, err := h.svc.CapturePayment(ctx, appt.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.svc.CapturePayment(ctx, "missing"); !errors.Is(err, model.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestCancelPaidAppointmentSettles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)
	_, _ = h.svc.CapturePayment(ctx, appt.ID)

	res, err := h.svc.Cancel(ctx, appt.ID, "u-pat")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Appointment.Status != model.StatusCancelled || res.Appointment.PaymentStatus != model.PaymentRefunded {
		t.Fatalf("expected cancelled/refunded, got %s/%s", res.Appointment.Status, res.Appointment.PaymentStatus)
	}
	if res.Settlement == nil || res.Settlement.RefundCents != 2240 || res.Settlement.PenaltyCents != 560 {
		t.Fatalf("unexpected settlement: %+v", res.Settlement)
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyFree {
		t.Fatalf("expected free slot, got %s", occ)
	}
	jobs, _ := h.sched.List(ctx, appt.ID)
	for _, j := range jobs {
		if j.Status != model.ReminderCancelled {
			t.Fatalf("expected reminders cancelled, got %s", j.Status)
		}
	}
}

func TestCancelSettlementFailureStillCancels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.settler.err = errors.New("processor timeout")
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)
	_, _ = h.svc.CapturePayment(ctx, appt.ID)

	res, err := h.svc.Cancel(ctx, appt.ID, "u-pat")
	if err != nil {
		t.Fatalf("cancel should succeed despite refund failure: %v", err)
	}
	if res.SettlementErr == nil || res.Settlement != nil {
		t.Fatalf("expected surfaced settlement error, got %+v", res)
	}
	if res.Appointment.Status != model.StatusCancelled || !res.Appointment.SettlementPending {
		t.Fatalf("expected cancelled and flagged, got %+v", res.Appointment)
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyFree {
		t.Fatalf("expected free slot, got %s", occ)
	}
	if len(h.events.events) != 1 || h.events.events[0].EventType != outbox.TopicSettlementFailed {
		t.Fatalf("expected settlement failure event, got %+v", h.events.events)
	}
}

func TestCancelUnpaidHold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	res, err := h.svc.Cancel(ctx, appt.ID, "u-pat")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Appointment.PaymentStatus != model.PaymentCancelled || h.settler.calls != 0 {
		t.Fatalf("expected unpaid cancellation without settlement, got %s (calls=%d)", res.Appointment.PaymentStatus, h.settler.calls)
	}
	again, err := h.svc.Cancel(ctx, appt.ID, "u-pat")
	if err != nil || again.Appointment.Status != model.StatusCancelled {
		t.Fatalf("expected idempotent cancel, got %+v (%v)", again, err)
	}
}

func TestCancelRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	if _, err := h.svc.Cancel(ctx, appt.ID, "u-pat2"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.svc.Cancel(ctx, "missing", "u-pat"); !errors.Is(err, model.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	h.svc.now = func() time.Time { return now.Add(73 * time.Hour) }
	before, _ := h.svc.Get(ctx, appt.ID)
	if _, err := h.svc.Cancel(ctx, appt.ID, "u-pat"); !errors.Is(err, model.ErrPastAppointment) {
		t.Fatalf("expected ErrPastAppointment, got %v", err)
	}
	after, _ := h.svc.Get(ctx, appt.ID)
	if after != before {
		t.Fatalf("expected no mutation, got %+v", after)
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyHeld {
		t.Fatalf("expected slot untouched, got %s", occ)
	}
}

func TestRescheduleMovesSlotAndReminders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	oldSlot := h.slot(t, "doc-1", 72*time.Hour)
	newSlot := h.slot(t, "doc-1", 96*time.Hour)
	appt := h.book(t, oldSlot.ID)
	_, _ = h.svc.CapturePayment(ctx, appt.ID)

	got, err := h.svc.Reschedule(ctx, appt.ID, newSlot.ID, model.Initiator{Role: model.RoleOwner, UserID: "u-doc"})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got.Status != model.StatusRescheduled || got.SlotID != newSlot.ID {
		t.Fatalf("expected rescheduled onto new slot, got %+v", got)
	}
	if occ := h.occupancy(t, oldSlot.ID); occ != model.OccupancyFree {
		t.Fatalf("expected old slot free, got %s", occ)
	}
	if occ := h.occupancy(t, newSlot.ID); occ != model.OccupancyBooked {
		t.Fatalf("expected new slot booked, got %s", occ)
	}

	jobs, _ := h.sched.List(ctx, appt.ID)
	pending := 0
	for _, j := range jobs {
		if j.Status == model.ReminderPending {
			pending++
			if j.FireAt.Before(now.Add(71 * time.Hour)) {
				t.Fatalf("stale reminder for old time still pending: %v", j.FireAt)
			}
		}
	}
	if pending != 2 {
		t.Fatalf("expected 2 pending reminders for new time, got %d", pending)
	}
}

func TestRescheduleToTakenSlotChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	oldSlot := h.slot(t, "doc-1", 72*time.Hour)
	taken := h.slot(t, "doc-1", 96*time.Hour)
	appt := h.book(t, oldSlot.ID)
	_, _ = h.svc.CapturePayment(ctx, appt.ID)
	_, _ = h.svc.RequestBooking(ctx, BookingRequest{RequesterUserID: "u-pat2", OwnerUserID: "u-doc", SlotID: taken.ID, PriceCents: 100})

	_, err := h.svc.Reschedule(ctx, appt.ID, taken.ID, model.Initiator{Role: model.RoleRequester, UserID: "u-pat"})
	if !errors.Is(err, model.ErrSlotAlreadyBooked) {
		t.Fatalf("expected ErrSlotAlreadyBooked, got %v", err)
	}
	cur, _ := h.svc.Get(ctx, appt.ID)
	if cur.SlotID != oldSlot.ID || cur.Status != model.StatusConfirmed {
		t.Fatalf("expected appointment unchanged, got %+v", cur)
	}
	if occ := h.occupancy(t, oldSlot.ID); occ != model.OccupancyBooked {
		t.Fatalf("expected old slot still booked, got %s", occ)
	}
}

func TestRescheduleRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	foreign := h.slot(t, "doc-2", 96*time.Hour)
	free := h.slot(t, "doc-1", 120*time.Hour)
	appt := h.book(t, s.ID)

	if _, err := h.svc.Reschedule(ctx, appt.ID, free.ID, model.Initiator{Role: model.RoleOwner, UserID: "u-doc"}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected unpaid hold to be rejected, got %v", err)
	}
	_, _ = h.svc.CapturePayment(ctx, appt.ID)
	if _, err := h.svc.Reschedule(ctx, appt.ID, free.ID, model.Initiator{Role: model.RoleOwner, UserID: "u-doc2"}); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.svc.Reschedule(ctx, appt.ID, foreign.ID, model.Initiator{Role: model.RoleOwner, UserID: "u-doc"}); !errors.Is(err, model.ErrSlotOwnerMismatch) {
		t.Fatalf("expected ErrSlotOwnerMismatch, got %v", err)
	}
	if _, err := h.svc.Reschedule(ctx, appt.ID, s.ID, model.Initiator{Role: model.RoleOwner, UserID: "u-doc"}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for same slot, got %v", err)
	}
}

func TestCompleteByOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	if _, err := h.svc.Complete(ctx, appt.ID, "u-doc"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected unpaid appointment not completable, got %v", err)
	}
	_, _ = h.svc.CapturePayment(ctx, appt.ID)
	if _, err := h.svc.Complete(ctx, appt.ID, "u-doc2"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	done, err := h.svc.Complete(ctx, appt.ID, "u-doc")
	if err != nil || done.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", done.Status, err)
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyBooked {
		t.Fatalf("expected slot to stay booked, got %s", occ)
	}
	if _, err := h.svc.Cancel(ctx, appt.ID, "u-pat"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected completed appointment not cancellable, got %v", err)
	}
}

func TestExpireCountsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	first, err := h.svc.Expire(ctx, appt)
	if err != nil || !first {
		t.Fatalf("expected first expire to apply, got %v (%v)", first, err)
	}
	second, err := h.svc.Expire(ctx, appt)
	if err != nil || second {
		t.Fatalf("expected second expire to be a no-op, got %v (%v)", second, err)
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyFree {
		t.Fatalf("expected free slot, got %s", occ)
	}
}

// barrier releases its first parties callers together.
type barrier struct {
	parties int32
	arrived atomic.Int32
	ready   chan struct{}
}

func newBarrier(parties int32) *barrier {
	return &barrier{parties: parties, ready: make(chan struct{})}
}

func (b *barrier) wait() {
	n := b.arrived.Add(1)
	if n == b.parties {
		close(b.ready)
	}
	if n > b.parties {
		return
	}
	select {
	case <-b.ready:
	case <-time.After(2 * time.Second):
	}
}

// syncedReads makes concurrent operations observe the same appointment
// snapshot before any of them writes.
type syncedReads struct {
	*memstore.Store
	b *barrier
}

func (s syncedReads) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := s.Store.GetAppointment(ctx, id)
	s.b.wait()
	return appt, err
}

func TestConcurrentReschedulesBindOneSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.slot(t, "doc-1", 72*time.Hour)
	b := h.slot(t, "doc-1", 96*time.Hour)
	c := h.slot(t, "doc-1", 120*time.Hour)
	d := h.slot(t, "doc-1", 144*time.Hour)
	appt := h.book(t, a.ID)
	_, _ = h.svc.CapturePayment(ctx, appt.ID)
	owner := model.Initiator{Role: model.RoleOwner, UserID: "u-doc"}
	if _, err := h.svc.Reschedule(ctx, appt.ID, b.ID, owner); err != nil {
		t.Fatalf("first reschedule: %v", err)
	}

	h.svc.store = syncedReads{Store: h.store, b: newBarrier(2)}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, target := range []string{c.ID, d.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Reschedule(ctx, appt.ID, target, owner)
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, model.ErrStaleState) {
				t.Fatalf("expected ErrStaleState for the losing reschedule, got %v", err)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one reschedule to lose, got errors %v", errs)
	}

	cur, _ := h.store.GetAppointment(ctx, appt.ID)
	if cur.SlotID != c.ID && cur.SlotID != d.ID {
		t.Fatalf("expected appointment on one of the new slots, got %s", cur.SlotID)
	}
	for _, id := range []string{a.ID, b.ID, c.ID, d.ID} {
		want := model.OccupancyFree
		if id == cur.SlotID {
			want = model.OccupancyBooked
		}
		if occ := h.occupancy(t, id); occ != want {
			t.Fatalf("slot %s: expected %s, got %s", id, want, occ)
		}
	}
}

func TestConcurrentCapturesKeepSlotBooked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	h.svc.store = syncedReads{Store: h.store, b: newBarrier(2)}
	errs := make([]error, 2)
	results := make([]model.Appointment, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.svc.CapturePayment(ctx, appt.ID)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("capture %d: expected success, got %v", i, err)
		}
		if results[i].Status != model.StatusConfirmed || results[i].PaymentStatus != model.PaymentCompleted {
			t.Fatalf("capture %d: expected confirmed/completed, got %s/%s", i, results[i].Status, results[i].PaymentStatus)
		}
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyBooked {
		t.Fatalf("expected slot to stay booked, got %s", occ)
	}
}

func TestCaptureLosingToExpiryReleasesSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.slot(t, "doc-1", 72*time.Hour)
	appt := h.book(t, s.ID)

	// The sweep cancels the hold after the capture read it but before the
	// capture confirmed it.
	expired := appt
	expired.Status = model.StatusCancelled
	expired.PaymentStatus = model.PaymentCancelled
	if _, err := h.store.UpdateAppointment(ctx, expired, appt.State()); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := h.svc.reservations.Commit(ctx, s.ID, appt.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := h.svc.resolveStaleCapture(ctx, appt); !errors.Is(err, model.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	if occ := h.occupancy(t, s.ID); occ != model.OccupancyFree {
		t.Fatalf("expected slot released, got %s", occ)
	}
}
