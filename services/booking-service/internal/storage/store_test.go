package storage

import (
	"testing"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reminders"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/slots"
)

var (
	_ slots.Store        = (*Store)(nil)
	_ appointments.Store = (*Store)(nil)
	_ payments.Store     = (*Store)(nil)
	_ reminders.Store    = (*Store)(nil)
)

func TestNewStoreKeepsPool(t *testing.T) {
	s := NewStore(nil)
	if s == nil {
		t.Fatalf("expected store")
	}
	if s.pool != nil {
		t.Fatalf("expected nil pool, got %v", s.pool)
	}
}
