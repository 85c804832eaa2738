package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/session"
)

// APIError is the standard error response format.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSONError writes a consistent JSON error response.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps session errors to an HTTP status and an error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrChallenge):
		return http.StatusBadRequest, "challenge_failed"
	case errors.Is(err, session.ErrUnknownActivity):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, session.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, session.ErrLockedOut):
		return http.StatusLocked, "locked_out"
	case errors.Is(err, session.ErrWeakSecret):
		return http.StatusUnprocessableEntity, "weak_password"
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSONError(w, status, code, msg)
}
