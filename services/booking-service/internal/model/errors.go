package model

import "errors"

var (
	ErrSlotAlreadyBooked   = errors.New("slot already booked")
	ErrStaleState          = errors.New("stale slot state")
	ErrSlotUnavailable     = errors.New("slot unavailable")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrOwnerNotFound       = errors.New("owner not found")
	ErrRequesterNotFound   = errors.New("requester not found")
	ErrUnauthorized        = errors.New("caller is not bound to this appointment")
	ErrPastAppointment     = errors.New("appointment start time is in the past")
	ErrNotPaid             = errors.New("appointment is not paid")
	ErrSlotNotHeld         = errors.New("slot is not held")
	ErrInvalidTransition   = errors.New("invalid appointment transition")
	ErrInvalidRange        = errors.New("slot start must be before end")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSlotOwnerMismatch   = errors.New("slot belongs to a different owner")
	ErrSlotOverlap         = errors.New("slot overlaps an existing slot of the owner")
	ErrDuplicatePayment    = errors.New("payment already recorded")
)

type Kind int

const (
	KindInternal Kind = iota
	KindConflict
	KindNotFound
	KindUnauthorized
	KindInvalidState
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// KindOf classifies err by the first sentinel found in its chain.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrStaleState), errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrSlotOverlap), errors.Is(err, ErrDuplicatePayment):
		return KindConflict
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrOwnerNotFound), errors.Is(err, ErrRequesterNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrPastAppointment), errors.Is(err, ErrNotPaid),
		errors.Is(err, ErrSlotNotHeld), errors.Is(err, ErrInvalidTransition):
		return KindInvalidState
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSlotOwnerMismatch):
		return KindInvalid
	}
	return KindInternal
}
