package model

import "time"

type Occupancy string

const (
	OccupancyFree   Occupancy = "free"
	OccupancyHeld   Occupancy = "held"
	OccupancyBooked Occupancy = "booked"
)

func (o Occupancy) Valid() bool {
	switch o {
	case OccupancyFree, OccupancyHeld, OccupancyBooked:
		return true
	}
	return false
}

// DateLayout is the calendar date format used for slot dates and filters.
const DateLayout = "2006-01-02"

type Slot struct {
	ID            string
	OwnerID       string
	Date          string
	StartsAt      time.Time
	EndsAt        time.Time
	Occupancy     Occupancy
	AppointmentID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition is a single compare-and-swap on a slot's occupancy.
// Moving into Held or Booked binds AppointmentID; moving out of Held or
// Booked only applies when the slot is still bound to AppointmentID.
type Transition struct {
	SlotID        string
	From          Occupancy
	To            Occupancy
	AppointmentID string
}

type SlotFilter struct {
	OwnerID   string
	Date      string
	Occupancy Occupancy
}
