package handlers

import (
	"net/http"
	"time"
)

type sweepRequest struct {
	HoldTimeoutMinutes int `json:"hold_timeout_minutes" validate:"omitempty,gte=1,lte=1440"`
}

// Sweep runs one reaper pass. Without hold_timeout_minutes the configured
// timeout applies.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	res, err := h.reaper.Sweep(r.Context(), time.Duration(req.HoldTimeoutMinutes)*time.Minute)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
