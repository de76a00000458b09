package model

import "time"

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderClaimed   ReminderStatus = "claimed"
	ReminderFired     ReminderStatus = "fired"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderFailed    ReminderStatus = "failed"
)

type ReminderJob struct {
	ID            int64
	AppointmentID string
	FireAt        time.Time
	Status        ReminderStatus
	Attempts      int
	MaxAttempts   int
	NextRunAt     time.Time
	LastError     string
	Traceparent   string
	Tracestate    string
	// DeliveredTo lists recipients already reminded by this job.
	DeliveredTo []string
	CreatedAt   time.Time
}
