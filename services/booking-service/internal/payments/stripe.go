package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
)

// StripeProcessor captures with a confirmed PaymentIntent and refunds against it.
// The transaction id is the PaymentIntent id.
type StripeProcessor struct {
	currency string
}

func NewStripeProcessor(secretKey, currency string) *StripeProcessor {
	stripe.Key = secretKey
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeProcessor{currency: currency}
}

func (p *StripeProcessor) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountCents),
		Currency:           stripe.String(p.currency),
		PaymentMethod:      stripe.String(req.Method),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("appointment_id", req.AppointmentID)
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe capture: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("stripe payment intent %s is %s", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (p *StripeProcessor) Refund(ctx context.Context, transactionID string, amountCents int64) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(refundKey(transactionID, amountCents))

	re, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe refund: %w", err)
	}
	return re.ID, nil
}
