package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type bookingRequest struct {
	OwnerID         string `json:"owner_id" validate:"required"`
	SlotID          string `json:"slot_id" validate:"required"`
	PriceCents      int64  `json:"price_cents" validate:"required,gt=0"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,gt=0,lte=1440"`
	Notes           string `json:"notes" validate:"max=2000"`
}

type captureRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"omitempty,gt=0"`
	Method      string `json:"method" validate:"required"`
}

type rescheduleRequest struct {
	SlotID        string `json:"slot_id" validate:"required"`
	InitiatorRole string `json:"initiator_role" validate:"omitempty,oneof=owner requester"`
}

type appointmentResponse struct {
	ID                string `json:"id"`
	RequesterID       string `json:"requester_id"`
	OwnerID           string `json:"owner_id"`
	SlotID            string `json:"slot_id"`
	PriceCents        int64  `json:"price_cents"`
	DurationMinutes   int    `json:"duration_minutes"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
	SessionLink       string `json:"session_link,omitempty"`
	Notes             string `json:"notes,omitempty"`
	SettlementPending bool   `json:"settlement_pending"`
	CreatedAt         string `json:"created_at"`
}

type paymentResponse struct {
	ID            string `json:"id"`
	AmountCents   int64  `json:"amount_cents"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

type settlementResponse struct {
	RefundCents  int64 `json:"refund_cents"`
	PenaltyCents int64 `json:"penalty_cents"`
}

type cancelResponse struct {
	Appointment     appointmentResponse `json:"appointment"`
	Settlement      *settlementResponse `json:"settlement,omitempty"`
	SettlementError string              `json:"settlement_error,omitempty"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:                a.ID,
		RequesterID:       a.RequesterID,
		OwnerID:           a.OwnerID,
		SlotID:            a.SlotID,
		PriceCents:        a.PriceCents,
		DurationMinutes:   a.DurationMinutes,
		Status:            string(a.Status),
		PaymentStatus:     string(a.PaymentStatus),
		SessionLink:       a.SessionLink,
		Notes:             a.Notes,
		SettlementPending: a.SettlementPending,
		CreatedAt:         a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPaymentResponse(p model.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		AmountCents:   p.AmountCents,
		Method:        p.Method,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
	}
}

func toSettlementResponse(s model.Settlement) *settlementResponse {
	return &settlementResponse{RefundCents: s.RefundCents, PenaltyCents: s.PenaltyCents}
}

// RequestBooking places a hold on a slot for the calling requester.
func (h *Handler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r.Context())
	appt, err := h.appts.RequestBooking(r.Context(), appointments.BookingRequest{
		RequesterUserID: c.UserID,
		OwnerUserID:     strings.TrimSpace(req.OwnerID),
		SlotID:          strings.TrimSpace(req.SlotID),
		PriceCents:      req.PriceCents,
		DurationMinutes: req.DurationMinutes,
		Notes:           strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.loadForParty(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	partyID, err := h.partyOf(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, http.StatusBadRequest, "invalid", "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	list, err := h.appts.ListByParty(r.Context(), partyID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]appointmentResponse, 0, len(list))
	for _, a := range list {
		items = append(items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

// CapturePayment charges the appointment price and books the slot.
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, ok := h.loadForParty(w, r)
	if !ok {
		return
	}
	if req.AmountCents != 0 && req.AmountCents != appt.PriceCents {
		h.fail(w, r, model.ErrInvalidAmount)
		return
	}
	confirmed, payment, err := h.gateway.Charge(r.Context(), appt.ID, req.Method)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointment": toAppointmentResponse(confirmed),
		"payment":     toPaymentResponse(payment),
	})
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r.Context())
	role := c.Role
	if req.InitiatorRole != "" {
		role = model.Role(req.InitiatorRole)
	}
	if role == "" {
		role = model.RoleRequester
	}
	appt, err := h.appts.Reschedule(r.Context(), chi.URLParam(r, "appointmentID"), strings.TrimSpace(req.SlotID),
		model.Initiator{Role: role, UserID: c.UserID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Cancel cancels on behalf of the calling requester. A failed refund still
// answers 200 with settlement_error set.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.appts.Cancel(r.Context(), chi.URLParam(r, "appointmentID"), callerFrom(r.Context()).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := cancelResponse{Appointment: toAppointmentResponse(res.Appointment)}
	if res.Settlement != nil {
		out.Settlement = toSettlementResponse(*res.Settlement)
	}
	if res.SettlementErr != nil {
		out.SettlementError = "refund failed, flagged for reconciliation"
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	appt, err := h.appts.Complete(r.Context(), chi.URLParam(r, "appointmentID"), callerFrom(r.Context()).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// RetrySettlement re-runs the refund of a cancelled appointment whose
// settlement failed earlier.
func (h *Handler) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.loadForParty(w, r)
	if !ok {
		return
	}
	refund, err := h.gateway.OnRefundRequested(r.Context(), appt.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	refreshed, err := h.appts.Get(r.Context(), appt.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointment": toAppointmentResponse(refreshed),
		"settlement":  toSettlementResponse(refund.Settlement),
	})
}

// loadForParty loads the path appointment and checks the caller is one of
// its parties.
func (h *Handler) loadForParty(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	appt, err := h.appts.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.fail(w, r, err)
		return model.Appointment{}, false
	}
	partyID, err := h.partyOf(r.Context(), callerFrom(r.Context()))
	if err != nil || (partyID != appt.RequesterID && partyID != appt.OwnerID) {
		h.fail(w, r, model.ErrUnauthorized)
		return model.Appointment{}, false
	}
	return appt, true
}
