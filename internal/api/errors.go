package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps service errors onto HTTP responses. Unknown errors are logged and
// reported as 500 without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var (
		conflict   *appointment.ConflictError
		transition *appointment.InvalidTransitionError
		state      *appointment.InvalidStateError
	)

	switch {
	case errors.As(err, &conflict):
		resp := ConflictResponse{ErrorResponse: ErrorResponse{Error: "slot_conflict", Details: conflict.Error()}}
		if conflict.WithAppointmentID != uuid.Nil {
			id := conflict.WithAppointmentID
			resp.ConflictingAppointmentID = &id
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_transition", transition.Error())
	case errors.As(err, &state):
		writeError(w, http.StatusConflict, "invalid_state", state.Error())
	case errors.Is(err, appointment.ErrConcurrency),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "concurrent_update", "appointment or vet schedule is being modified, please retry")
	case errors.Is(err, appointment.ErrActorNotPermitted):
		writeError(w, http.StatusForbidden, "not_permitted", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrWorkingHoursNotFound):
		writeError(w, http.StatusNotFound, "working_hours_not_found", err.Error())
	case appointment.IsNotFound(err):
		writeError(w, http.StatusNotFound, notFoundCode(err), err.Error())
	default:
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func notFoundCode(err error) string {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, appointment.ErrVetNotFound):
		return "vet_not_found"
	case errors.Is(err, appointment.ErrPetNotFound):
		return "pet_not_found"
	case errors.Is(err, appointment.ErrClinicNotFound):
		return "clinic_not_found"
	default:
		return "not_found"
	}
}
