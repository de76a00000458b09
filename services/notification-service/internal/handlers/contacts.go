// Package handlers exposes contact management for the delivery pipeline.
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/consultslot/libs/httpx"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/contacts"
)

type Store interface {
	Get(ctx context.Context, partyID string) (contacts.Contact, error)
	Upsert(ctx context.Context, c contacts.Contact) error
}

type Handler struct {
	store    Store
	token    string
	logger   *slog.Logger
	validate *validator.Validate
}

// New builds the handler. A non-empty token is required as a bearer
// credential on every request.
func New(store Store, token string, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		token:    strings.TrimSpace(token),
		logger:   logger,
		validate: validator.New(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.authenticate)
	r.Get("/v1/contacts/{partyID}", h.GetContact)
	r.Put("/v1/contacts/{partyID}", h.PutContact)
	return r
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type contactRequest struct {
	Email   string `json:"email" validate:"omitempty,email"`
	PushURL string `json:"push_url" validate:"omitempty,url"`
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Get(r.Context(), chi.URLParam(r, "partyID"))
	if errors.Is(err, contacts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "contact not found")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) PutContact(w http.ResponseWriter, r *http.Request) {
	partyID := strings.TrimSpace(chi.URLParam(r, "partyID"))
	if partyID == "" {
		writeError(w, http.StatusBadRequest, "invalid", "party id is required")
		return
	}
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid", "invalid field "+strings.ToLower(verrs[0].Field()))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}
	c := contacts.Contact{PartyID: partyID, Email: strings.TrimSpace(req.Email), PushURL: strings.TrimSpace(req.PushURL)}
	if err := h.store.Upsert(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorResponse{Error: kind, Message: msg})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed",
		"request_id", httpx.RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"err", err,
	)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
