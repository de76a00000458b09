// Package slots owns slot records. Occupancy is only ever changed through
// Registry.Transition, which is a compare-and-swap against the store.
package slots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

// Store persists slots. CompareAndSwapSlot must check tr.From and apply tr.To
// in one atomic step and return model.ErrStaleState when the check fails.
type Store interface {
	CreateSlot(ctx context.Context, slot model.Slot) (model.Slot, error)
	GetSlot(ctx context.Context, id string) (model.Slot, error)
	ListSlots(ctx context.Context, filter model.SlotFilter) ([]model.Slot, error)
	CompareAndSwapSlot(ctx context.Context, tr model.Transition) (model.Slot, error)
}

type Registry struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

func NewRegistry(store Store, loc *time.Location) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{store: store, loc: loc, now: time.Now}
}

type NewSlot struct {
	OwnerID  string
	Date     string
	StartsAt time.Time
	EndsAt   time.Time
}

func (r *Registry) Create(ctx context.Context, in NewSlot) (model.Slot, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		return model.Slot{}, model.ErrOwnerNotFound
	}
	if !in.StartsAt.Before(in.EndsAt) {
		return model.Slot{}, model.ErrInvalidRange
	}
	date := in.StartsAt.In(r.loc).Format(model.DateLayout)
	if in.Date != "" && in.Date != date {
		return model.Slot{}, fmt.Errorf("date %s does not match start %s: %w", in.Date, date, model.ErrInvalidRange)
	}

	now := r.now().UTC()
	return r.store.CreateSlot(ctx, model.Slot{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Date:      date,
		StartsAt:  in.StartsAt.UTC(),
		EndsAt:    in.EndsAt.UTC(),
		Occupancy: model.OccupancyFree,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (r *Registry) Get(ctx context.Context, id string) (model.Slot, error) {
	return r.store.GetSlot(ctx, id)
}

func (r *Registry) List(ctx context.Context, filter model.SlotFilter) ([]model.Slot, error) {
	if filter.Date != "" {
		if _, err := time.Parse(model.DateLayout, filter.Date); err != nil {
			return nil, fmt.Errorf("date filter %q: %w", filter.Date, model.ErrInvalidRange)
		}
	}
	if filter.Occupancy != "" && !filter.Occupancy.Valid() {
		return nil, fmt.Errorf("occupancy filter %q: %w", filter.Occupancy, model.ErrInvalidTransition)
	}
	return r.store.ListSlots(ctx, filter)
}

// Transition applies a single occupancy compare-and-swap.
func (r *Registry) Transition(ctx context.Context, tr model.Transition) (model.Slot, error) {
	if !allowed(tr.From, tr.To) {
		return model.Slot{}, fmt.Errorf("%s -> %s: %w", tr.From, tr.To, model.ErrInvalidTransition)
	}
	if tr.AppointmentID == "" {
		return model.Slot{}, fmt.Errorf("transition without appointment: %w", model.ErrInvalidTransition)
	}
	return r.store.CompareAndSwapSlot(ctx, tr)
}

func allowed(from, to model.Occupancy) bool {
	switch from {
	case model.OccupancyFree:
		return to == model.OccupancyHeld
	case model.OccupancyHeld:
		return to == model.OccupancyBooked || to == model.OccupancyFree
	case model.OccupancyBooked:
		return to == model.OccupancyFree
	}
	return false
}
