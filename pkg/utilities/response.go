package utilities

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
)

// ErrorResponse is the JSON envelope for every non-2xx answer.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and error envelope and returns the
// status written. Unknown errors become 500 without leaking their text.
func WriteError(w http.ResponseWriter, err error) int {
	status, body := errorResponse(err)
	switch {
	case errors.Is(err, apperr.ErrTransient):
		w.Header().Set("Retry-After", "1")
	case errors.Is(err, apperr.ErrLockedOut):
		var locked *apperr.LockedOutError
		retry := time.Second
		if errors.As(err, &locked) {
			retry = locked.RetryAfter(time.Now())
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	}
	WriteJSON(w, status, body)
	return status
}

func errorResponse(err error) (int, ErrorResponse) {
	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, ErrorResponse{
			Error:   validation.Error(),
			Code:    "validation_failed",
			Details: map[string]any{"field": validation.Field, "reason": validation.Reason},
		}
	}
	var locked *apperr.LockedOutError
	if errors.As(err, &locked) {
		return http.StatusLocked, ErrorResponse{
			Error:   apperr.ErrLockedOut.Error(),
			Code:    "locked_out",
			Details: map[string]any{"locked_until": locked.Until.UTC().Format(time.RFC3339)},
		}
	}
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation_failed"}
	case errors.Is(err, apperr.ErrAuthenticationFailed):
		return http.StatusUnauthorized, ErrorResponse{Error: apperr.ErrAuthenticationFailed.Error(), Code: "authentication_failed"}
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorResponse{Error: apperr.ErrUnauthorized.Error(), Code: "unauthorized"}
	case errors.Is(err, apperr.ErrLockedOut):
		return http.StatusLocked, ErrorResponse{Error: apperr.ErrLockedOut.Error(), Code: "locked_out"}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"}
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "service temporarily unavailable", Code: "unavailable"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
}
