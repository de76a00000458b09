package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/payments"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const providerStripe = "stripe"

// StripeWebhook couples payments captured outside the API (client-side
// confirmation) to their appointment. The signature is the authentication.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.stripeWebhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "stripe webhook not configured")
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		writeError(w, http.StatusBadRequest, "invalid", "missing Stripe-Signature header")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "failed to read request body")
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "invalid signature")
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", providerStripe,
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	fresh, err := h.events.RecordProviderEvent(r.Context(), providerStripe, evt.ID, evtType, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !fresh {
		h.logger.Info("payment provider event duplicate ignored", "provider", providerStripe, "provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	switch evtType {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "provider_event_id", evt.ID, "err", err)
			break
		}
		appointmentID := strings.TrimSpace(pi.Metadata["appointment_id"])
		if appointmentID == "" {
			h.logger.Warn("stripe: payment intent without appointment_id metadata", "payment_intent_id", pi.ID)
			break
		}
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		method := ""
		if pi.PaymentMethod != nil {
			method = pi.PaymentMethod.ID
		}
		_, _, err := h.gateway.OnPaymentCaptured(r.Context(), payments.Captured{
			AppointmentID: appointmentID,
			AmountCents:   amount,
			Method:        method,
			TransactionID: pi.ID,
		})
		if err != nil && model.KindOf(err) == model.KindInternal {
			// Let the provider redeliver.
			if ferr := h.events.ForgetProviderEvent(r.Context(), providerStripe, evt.ID); ferr != nil {
				h.logger.Error("stripe: forget provider event failed", "provider_event_id", evt.ID, "err", ferr)
			}
			h.fail(w, r, err)
			return
		}
		if err != nil {
			h.logger.Warn("stripe: payment not coupled", "appointment_id", appointmentID, "payment_intent_id", pi.ID, "err", err)
		}

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err == nil {
			h.logger.Warn("stripe: payment failed", "payment_intent_id", pi.ID, "appointment_id", pi.Metadata["appointment_id"])
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
