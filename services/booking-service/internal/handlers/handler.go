// Package handlers exposes the booking operations over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/consultslot/libs/auth"
	"github.com/md-rashed-zaman/consultslot/libs/httpx"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reaper"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/slots"
)

// RoleHeader carries the caller role set by the edge gateway when tokens are
// not verified here.
const RoleHeader = "X-Role"

// ProviderEvents deduplicates payment provider webhooks.
type ProviderEvents interface {
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
	ForgetProviderEvent(ctx context.Context, provider, eventID string) error
}

type Deps struct {
	Appointments *appointments.Service
	Slots        *slots.Registry
	Gateway      *payments.Gateway
	Reaper       *reaper.Reaper
	Identity     identity.Resolver
	Events       ProviderEvents
	Verifier     *auth.Verifier
	Logger       *slog.Logger
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

type Handler struct {
	appts    *appointments.Service
	slots    *slots.Registry
	gateway  *payments.Gateway
	reaper   *reaper.Reaper
	identity identity.Resolver
	events   ProviderEvents
	verifier *auth.Verifier
	logger   *slog.Logger
	validate *validator.Validate

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

func New(d Deps, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		appts:                  d.Appointments,
		slots:                  d.Slots,
		gateway:                d.Gateway,
		reaper:                 d.Reaper,
		identity:               d.Identity,
		events:                 d.Events,
		verifier:               d.Verifier,
		logger:                 d.Logger,
		validate:               validator.New(),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

// Routes mounts the API. The Stripe webhook authenticates by signature, every
// other route needs a caller identity.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/webhooks/stripe", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/v1/slots", h.CreateSlot)
		r.Get("/v1/slots", h.ListSlots)
		r.Get("/v1/slots/{slotID}", h.GetSlot)

		r.Post("/v1/appointments", h.RequestBooking)
		r.Get("/v1/appointments", h.ListAppointments)
		r.Route("/v1/appointments/{appointmentID}", func(r chi.Router) {
			r.Get("/", h.GetAppointment)
			r.Post("/payments", h.CapturePayment)
			r.Post("/reschedule", h.Reschedule)
			r.Post("/cancel", h.Cancel)
			r.Post("/complete", h.Complete)
			r.Post("/settlement", h.RetrySettlement)
		})

		r.Post("/v1/maintenance/sweep", h.Sweep)
	})
	return r
}

type caller struct {
	UserID string
	Role   model.Role
}

type callerKey struct{}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c caller
		if h.verifier.Enabled() {
			token := auth.BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := h.verifier.Verify(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			c = caller{UserID: claims.Sub, Role: model.Role(strings.ToLower(claims.Role))}
			r = r.WithContext(auth.ContextWithClaims(r.Context(), claims))
		} else {
			c = caller{
				UserID: strings.TrimSpace(r.Header.Get(httpx.UserIDHeader)),
				Role:   model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(RoleHeader)))),
			}
		}
		if c.UserID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// partyOf resolves the caller to the party id bound on appointments.
func (h *Handler) partyOf(ctx context.Context, c caller) (string, error) {
	switch c.Role {
	case model.RoleOwner:
		return h.identity.ResolveOwner(ctx, c.UserID)
	case model.RoleRequester, "":
		return h.identity.ResolveRequester(ctx, c.UserID)
	default:
		return "", model.ErrUnauthorized
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "invalid json body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid", "invalid field "+strings.ToLower(verrs[0].Field()))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
