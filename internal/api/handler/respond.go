package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seatdesk/seatdesk/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorBody{Error: code, Message: msg})
}

// mapError translates domain sentinel errors to HTTP status codes and
// machine-readable error codes. All mapping lives here.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidSubject):
		respondError(w, http.StatusBadRequest, "invalid_subject", err.Error())
	case errors.Is(err, domain.ErrCodeInvalid):
		respondError(w, http.StatusBadRequest, "code_invalid", err.Error())
	case errors.Is(err, domain.ErrCodeExpired):
		respondError(w, http.StatusBadRequest, "code_expired", err.Error())
	case errors.Is(err, domain.ErrCodeExhausted):
		respondError(w, http.StatusBadRequest, "code_exhausted", err.Error())
	case errors.Is(err, domain.ErrIdentityRequired):
		respondError(w, http.StatusBadRequest, "identity_required", err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, "queue_full", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
