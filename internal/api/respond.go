package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps scheduling errors onto HTTP statuses and returns
// the status written.
func writeServiceError(w http.ResponseWriter, err error) int {
	var verr *appointment.ValidationError
	var nf *appointment.NotFoundError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Details: err.Error(),
			Fields:  verr.Fields,
		})
		return http.StatusUnprocessableEntity
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Entity+"_not_found", err.Error())
		return http.StatusNotFound
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
		return http.StatusConflict
	case errors.Is(err, appointment.ErrStaleState):
		writeError(w, http.StatusConflict, "stale_state", err.Error())
		return http.StatusConflict
	case errors.Is(err, appointment.ErrForbiddenTransition):
		writeError(w, http.StatusForbidden, "forbidden_transition", err.Error())
		return http.StatusForbidden
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Details: field + ": " + msg,
		Fields:  []appointment.FieldError{{Field: field, Message: msg}},
	})
}
