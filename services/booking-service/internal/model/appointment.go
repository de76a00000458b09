package model

import "time"

type AppointmentStatus string

const (
	StatusHeld        AppointmentStatus = "held"
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
)

// Active reports whether the appointment is paid and still ahead of the engagement.
func (s AppointmentStatus) Active() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusRescheduled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

type Appointment struct {
	ID                string
	RequesterID       string
	OwnerID           string
	SlotID            string
	PriceCents        int64
	DurationMinutes   int
	Status            AppointmentStatus
	PaymentStatus     PaymentStatus
	SessionLink       string
	Notes             string
	SettlementPending bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Role identifies which party initiates a mutation.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleRequester Role = "requester"
)

type Initiator struct {
	Role   Role
	UserID string
}

// State is what an appointment update is conditioned on: the status pair and
// the slot the appointment is bound to.
type State struct {
	Status        AppointmentStatus
	PaymentStatus PaymentStatus
	SlotID        string
}

func (a Appointment) State() State {
	return State{Status: a.Status, PaymentStatus: a.PaymentStatus, SlotID: a.SlotID}
}
