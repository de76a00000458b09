package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/consultslot/libs/httpx"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUnauthorized:
		return http.StatusForbidden
	case model.KindInvalidState:
		return http.StatusUnprocessableEntity
	case model.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorResponse{Error: kind, Message: msg})
}

// fail maps a domain error to its HTTP status. Internal errors are logged and
// their details withheld from the caller.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
		writeError(w, code, kind.String(), "internal error")
		return
	}
	writeError(w, code, kind.String(), err.Error())
}
