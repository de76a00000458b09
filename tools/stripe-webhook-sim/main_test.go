package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func TestBuildEventJSONIsVerifiable(t *testing.T) {
	now := time.Now().UTC()
	payload, err := buildEventJSON("evt_1", "payment_intent.succeeded", now, "appt-1", 2800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test", Timestamp: now, Scheme: "v1"})

	evt, err := webhook.ConstructEventWithOptions(payload, signed.Header, "whsec_test", webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		t.Fatalf("expected verifiable event, got %v", err)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		t.Fatalf("decode payment intent: %v", err)
	}
	if pi.Metadata["appointment_id"] != "appt-1" || pi.AmountReceived != 2800 {
		t.Fatalf("unexpected payment intent: %+v", pi)
	}
}

func TestBuildEventJSONRejectsUnknownType(t *testing.T) {
	if _, err := buildEventJSON("evt_1", "checkout.session.completed", time.Now(), "a", 1); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
