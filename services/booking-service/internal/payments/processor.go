package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type CaptureRequest struct {
	AppointmentID  string
	AmountCents    int64
	Method         string
	IdempotencyKey string
}

// Processor is the external payment capture/refund gateway.
type Processor interface {
	Capture(ctx context.Context, req CaptureRequest) (transactionID string, err error)
	Refund(ctx context.Context, transactionID string, amountCents int64) (refundID string, err error)
}

// LocalProcessor settles in process. It backs local runs without a payment
// provider and keeps a ledger of captured amounts so over-refunds are rejected.
// Refunds are keyed by transaction and amount the way StripeProcessor keys
// them, so a repeated refund returns the first refund id.
type LocalProcessor struct {
	mu       sync.Mutex
	captured map[string]int64
	refunded map[string]int64
	byKey    map[string]string
}

func NewLocalProcessor() *LocalProcessor {
	return &LocalProcessor{
		captured: map[string]int64{},
		refunded: map[string]int64{},
		byKey:    map[string]string{},
	}
}

func (p *LocalProcessor) Capture(_ context.Context, req CaptureRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", fmt.Errorf("capture amount %d must be positive", req.AmountCents)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.IdempotencyKey != "" {
		if id, ok := p.byKey[req.IdempotencyKey]; ok {
			return id, nil
		}
	}
	id := "txn_" + uuid.NewString()
	p.captured[id] = req.AmountCents
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = id
	}
	return id, nil
}

func (p *LocalProcessor) Refund(_ context.Context, transactionID string, amountCents int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := refundKey(transactionID, amountCents)
	if id, ok := p.byKey[key]; ok {
		return id, nil
	}
	captured, ok := p.captured[transactionID]
	if !ok {
		return "", fmt.Errorf("unknown transaction %s", transactionID)
	}
	if amountCents <= 0 || p.refunded[transactionID]+amountCents > captured {
		return "", fmt.Errorf("refund %d exceeds remaining %d on %s", amountCents, captured-p.refunded[transactionID], transactionID)
	}
	p.refunded[transactionID] += amountCents
	id := "re_" + uuid.NewString()
	p.byKey[key] = id
	return id, nil
}

func refundKey(transactionID string, amountCents int64) string {
	return fmt.Sprintf("refund:%s:%d", transactionID, amountCents)
}
