package model

import "time"

type PaymentRecordStatus string

const (
	PaymentRecordCompleted PaymentRecordStatus = "completed"
	PaymentRecordRefunded  PaymentRecordStatus = "refunded"
)

// Payment is one monetary movement. Refunds are separate rows with a negative amount.
type Payment struct {
	ID            string
	AppointmentID string
	AmountCents   int64
	Method        string
	Status        PaymentRecordStatus
	TransactionID string
	CorrelationID string
	CreatedAt     time.Time
}

type Settlement struct {
	RefundCents  int64
	PenaltyCents int64
}
