// Package settlement splits a cancelled payment into refund and penalty.
package settlement

import (
	"fmt"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

const (
	refundPercent = 80
	percentBase   = 100
)

// Compute returns the refund (80%, rounded down to the cent) and the penalty
// (the remainder) for amountCents. refund + penalty always equals amountCents.
func Compute(amountCents int64) (model.Settlement, error) {
	if amountCents <= 0 {
		return model.Settlement{}, fmt.Errorf("settle %d: %w", amountCents, model.ErrInvalidAmount)
	}
	refund := amountCents/percentBase*refundPercent + amountCents%percentBase*refundPercent/percentBase
	return model.Settlement{
		RefundCents:  refund,
		PenaltyCents: amountCents - refund,
	}, nil
}
