// Package payments couples the external payment processor to the appointment
// state machine: a capture books the slot, a refund settles a cancellation.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/settlement"
)

type Store interface {
	InsertPayment(ctx context.Context, p model.Payment) (model.Payment, error)
	ListPayments(ctx context.Context, appointmentID string) ([]model.Payment, error)
	MarkPaymentRefunded(ctx context.Context, id string) error
}

type Appointments interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	CapturePayment(ctx context.Context, appointmentID string) (model.Appointment, error)
	MarkRefunded(ctx context.Context, appointmentID string) (model.Appointment, error)
}

type Gateway struct {
	store     Store
	appts     Appointments
	processor Processor
	notifier  notify.Notifier
	logger    *slog.Logger
}

func NewGateway(store Store, appts Appointments, processor Processor, notifier notify.Notifier, logger *slog.Logger) *Gateway {
	return &Gateway{store: store, appts: appts, processor: processor, notifier: notifier, logger: logger}
}

// Captured describes a payment the processor has already taken.
type Captured struct {
	AppointmentID string
	AmountCents   int64
	Method        string
	TransactionID string
}

// Charge captures the appointment price through the processor and couples it.
func (g *Gateway) Charge(ctx context.Context, appointmentID, method string) (model.Appointment, model.Payment, error) {
	appt, err := g.appts.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, model.Payment{}, err
	}
	if appt.Status != model.StatusHeld || appt.PaymentStatus != model.PaymentPending {
		return model.Appointment{}, model.Payment{}, fmt.Errorf("charge %s in %s/%s: %w", appt.ID, appt.Status, appt.PaymentStatus, model.ErrInvalidTransition)
	}
	method = strings.TrimSpace(method)
	txnID, err := g.processor.Capture(ctx, CaptureRequest{
		AppointmentID:  appt.ID,
		AmountCents:    appt.PriceCents,
		Method:         method,
		IdempotencyKey: "capture:" + appt.ID,
	})
	if err != nil {
		return model.Appointment{}, model.Payment{}, fmt.Errorf("capture payment for %s: %w", appt.ID, err)
	}
	return g.OnPaymentCaptured(ctx, Captured{
		AppointmentID: appt.ID,
		AmountCents:   appt.PriceCents,
		Method:        method,
		TransactionID: txnID,
	})
}

// OnPaymentCaptured records the payment and confirms the appointment. If the
// appointment can no longer be confirmed the payment is refunded in full.
// Replaying the same transaction returns the recorded payment.
func (g *Gateway) OnPaymentCaptured(ctx context.Context, c Captured) (model.Appointment, model.Payment, error) {
	if c.AmountCents <= 0 {
		return model.Appointment{}, model.Payment{}, model.ErrInvalidAmount
	}
	if c.TransactionID == "" {
		return model.Appointment{}, model.Payment{}, errors.New("captured payment without transaction id")
	}
	if p, ok, err := g.findPayment(ctx, c.AppointmentID, byTransaction(c.TransactionID)); err != nil || ok {
		return g.replayCapture(ctx, c.AppointmentID, p, err)
	}
	if _, err := g.appts.Get(ctx, c.AppointmentID); err != nil {
		return model.Appointment{}, model.Payment{}, err
	}

	payment, err := g.store.InsertPayment(ctx, model.Payment{
		AppointmentID: c.AppointmentID,
		AmountCents:   c.AmountCents,
		Method:        c.Method,
		Status:        model.PaymentRecordCompleted,
		TransactionID: c.TransactionID,
		CorrelationID: c.AppointmentID,
	})
	if errors.Is(err, model.ErrDuplicatePayment) {
		// A concurrent delivery of the same capture recorded it first and
		// owns the coupling.
		p, _, err := g.findPayment(ctx, c.AppointmentID, byTransaction(c.TransactionID))
		return g.replayCapture(ctx, c.AppointmentID, p, err)
	}
	if err != nil {
		return model.Appointment{}, model.Payment{}, fmt.Errorf("record payment: %w", err)
	}

	appt, err := g.appts.CapturePayment(ctx, c.AppointmentID)
	if err != nil {
		g.logger.Warn("captured payment could not be coupled, refunding", "appointment_id", c.AppointmentID, "transaction_id", c.TransactionID, "err", err)
		if cerr := g.compensate(ctx, payment); cerr != nil {
			g.logger.Error("capture compensation failed", "appointment_id", c.AppointmentID, "transaction_id", c.TransactionID, "err", cerr)
		}
		return model.Appointment{}, payment, err
	}
	g.logger.Info("payment captured", "appointment_id", appt.ID, "payment_id", payment.ID, "amount_cents", payment.AmountCents)
	return appt, payment, nil
}

func (g *Gateway) replayCapture(ctx context.Context, appointmentID string, p model.Payment, err error) (model.Appointment, model.Payment, error) {
	if err != nil {
		return model.Appointment{}, model.Payment{}, err
	}
	appt, err := g.appts.Get(ctx, appointmentID)
	return appt, p, err
}

func (g *Gateway) compensate(ctx context.Context, original model.Payment) error {
	_, err := g.refund(ctx, original, original.AmountCents)
	return err
}

type Refund struct {
	Settlement model.Settlement
	// Payment is the negative refund row; zero when nothing was refunded.
	Payment model.Payment
}

// OnRefundRequested refunds 80% of a cancelled appointment's payment and keeps
// the rest as a penalty.
func (g *Gateway) OnRefundRequested(ctx context.Context, appointmentID string) (Refund, error) {
	appt, err := g.appts.Get(ctx, appointmentID)
	if err != nil {
		return Refund{}, err
	}
	if appt.PaymentStatus != model.PaymentCompleted {
		return Refund{}, model.ErrNotPaid
	}
	if appt.Status != model.StatusCancelled {
		return Refund{}, fmt.Errorf("refund %s in %s: %w", appt.ID, appt.Status, model.ErrInvalidTransition)
	}

	original, err := g.originalPayment(ctx, appt.ID)
	if err != nil {
		return Refund{}, err
	}
	split, err := settlement.Compute(original.AmountCents)
	if err != nil {
		return Refund{}, err
	}

	refundRow, err := g.refund(ctx, original, split.RefundCents)
	if err != nil {
		return Refund{}, err
	}
	if _, err := g.appts.MarkRefunded(ctx, appt.ID); err != nil {
		return Refund{}, fmt.Errorf("mark appointment refunded: %w", err)
	}
	g.logger.Info("cancellation settled", "appointment_id", appt.ID, "refund_cents", split.RefundCents, "penalty_cents", split.PenaltyCents)

	body := fmt.Sprintf("Refund %s issued, cancellation fee %s retained.", formatCents(split.RefundCents), formatCents(split.PenaltyCents))
	meta := map[string]string{
		"appointment_id": appt.ID,
		"refund_cents":   fmt.Sprint(split.RefundCents),
		"penalty_cents":  fmt.Sprint(split.PenaltyCents),
	}
	notify.Send(ctx, g.notifier, g.logger,
		notify.Message{RecipientID: appt.RequesterID, Title: "Refund issued", Body: body, Metadata: meta},
		notify.Message{RecipientID: appt.OwnerID, Title: "Refund issued", Body: body, Metadata: meta},
	)
	return Refund{Settlement: split, Payment: refundRow}, nil
}

// Settle is the cancellation hook used by the appointment state machine.
func (g *Gateway) Settle(ctx context.Context, appointmentID string) (model.Settlement, error) {
	r, err := g.OnRefundRequested(ctx, appointmentID)
	return r.Settlement, err
}

// originalPayment is the latest positive payment. It may already be marked
// Refunded when an earlier settlement attempt stopped part way.
func (g *Gateway) originalPayment(ctx context.Context, appointmentID string) (model.Payment, error) {
	p, ok, err := g.findPayment(ctx, appointmentID, func(p model.Payment) bool {
		return p.AmountCents > 0
	})
	if err != nil {
		return model.Payment{}, err
	}
	if !ok {
		return model.Payment{}, fmt.Errorf("no completed payment for %s: %w", appointmentID, model.ErrNotPaid)
	}
	return p, nil
}

// findPayment returns the most recent payment of the appointment matching keep.
func (g *Gateway) findPayment(ctx context.Context, appointmentID string, keep func(model.Payment) bool) (model.Payment, bool, error) {
	payments, err := g.store.ListPayments(ctx, appointmentID)
	if err != nil {
		return model.Payment{}, false, err
	}
	for i := len(payments) - 1; i >= 0; i-- {
		if keep(payments[i]) {
			return payments[i], true, nil
		}
	}
	return model.Payment{}, false, nil
}

func byTransaction(id string) func(model.Payment) bool {
	return func(p model.Payment) bool { return p.TransactionID == id }
}

func refundOf(original model.Payment) func(model.Payment) bool {
	return func(p model.Payment) bool { return p.AmountCents < 0 && p.CorrelationID == original.ID }
}

// refund returns amount to the payer, records the negative row and marks the
// original Refunded. At most one refund row exists per original payment, so a
// retried or concurrent settlement reuses the recorded one.
func (g *Gateway) refund(ctx context.Context, original model.Payment, amountCents int64) (model.Payment, error) {
	row, done, err := g.findPayment(ctx, original.AppointmentID, refundOf(original))
	if err != nil {
		return model.Payment{}, err
	}
	if !done && amountCents > 0 {
		refundID, err := g.processor.Refund(ctx, original.TransactionID, amountCents)
		if err != nil {
			return model.Payment{}, fmt.Errorf("refund %s: %w", original.TransactionID, err)
		}
		row, err = g.store.InsertPayment(ctx, model.Payment{
			AppointmentID: original.AppointmentID,
			AmountCents:   -amountCents,
			Method:        original.Method,
			Status:        model.PaymentRecordCompleted,
			TransactionID: refundID,
			CorrelationID: original.ID,
		})
		if errors.Is(err, model.ErrDuplicatePayment) {
			row, _, err = g.findPayment(ctx, original.AppointmentID, refundOf(original))
		}
		if err != nil {
			return model.Payment{}, fmt.Errorf("record refund: %w", err)
		}
	}
	if original.Status == model.PaymentRecordRefunded {
		return row, nil
	}
	if err := g.store.MarkPaymentRefunded(ctx, original.ID); err != nil && !errors.Is(err, model.ErrStaleState) {
		return row, fmt.Errorf("mark payment %s refunded: %w", original.ID, err)
	}
	return row, nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
