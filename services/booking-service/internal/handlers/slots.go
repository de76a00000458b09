package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/slots"
)

type createSlotRequest struct {
	Date     string    `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

type slotResponse struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	Date          string `json:"date"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
	Occupancy     string `json:"occupancy"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

func toSlotResponse(s model.Slot) slotResponse {
	return slotResponse{
		ID:            s.ID,
		OwnerID:       s.OwnerID,
		Date:          s.Date,
		StartsAt:      s.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:        s.EndsAt.UTC().Format(time.RFC3339),
		Occupancy:     string(s.Occupancy),
		AppointmentID: s.AppointmentID,
	}
}

// CreateSlot publishes a bookable window for the calling owner.
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := callerFrom(r.Context())
	ownerID, err := h.identity.ResolveOwner(r.Context(), c.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slot, err := h.slots.Create(r.Context(), slots.NewSlot{
		OwnerID:  ownerID,
		Date:     req.Date,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("slot created", "slot_id", slot.ID, "owner_id", slot.OwnerID, "date", slot.Date)
	writeJSON(w, http.StatusCreated, toSlotResponse(slot))
}

func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.slots.List(r.Context(), model.SlotFilter{
		OwnerID:   strings.TrimSpace(q.Get("owner_id")),
		Date:      strings.TrimSpace(q.Get("date")),
		Occupancy: model.Occupancy(strings.TrimSpace(q.Get("occupancy"))),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]slotResponse, 0, len(list))
	for _, s := range list {
		items = append(items, toSlotResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := h.slots.Get(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(slot))
}
