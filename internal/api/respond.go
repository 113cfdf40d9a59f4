package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps a domain error kind to its HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, appointment.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, appointment.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, appointment.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, appointment.ErrPermission):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, appointment.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, appointment.ErrRecurrenceFailed):
		status, code = http.StatusUnprocessableEntity, "recurrence_failed"
	}

	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Ctx(r.Context()).Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, code, "internal server error")
		return
	}

	details := err.Error()
	var domainErr *appointment.Error
	if errors.As(err, &domainErr) {
		details = domainErr.Reason
	}
	writeError(w, status, code, details)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	return true
}
