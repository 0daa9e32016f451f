package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

// AppointmentService is the part of appointment.Service the HTTP layer uses.
type AppointmentService interface {
	BookAppointment(ctx context.Context, actor appointment.Actor, req appointment.BookingRequest) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID, newStart time.Time, newDurationMinutes int) (*appointment.Appointment, error)
	ChangeStatus(ctx context.Context, actor appointment.Actor, id uuid.UUID, target appointment.AppointmentStatus) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	ListAvailableSlots(ctx context.Context, vetID uuid.UUID, from, to time.Time, slotMinutes int) (iter.Seq[time.Time], error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListVetAppointments(ctx context.Context, vetID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type handlers struct {
	svc    AppointmentService
	logger *zap.Logger
}

const actorKey contextKey = "actor"

// requireActor rejects requests without a usable actor and stores it in the request context.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if errors.Is(err, errMissingActor) {
			writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) appointment.Actor {
	actor, _ := ctx.Value(actorKey).(appointment.Actor)
	return actor
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	ids := make([]uuid.UUID, 3)
	for i, field := range []struct{ name, raw string }{
		{"vet_id", req.VetID},
		{"pet_id", req.PetID},
		{"clinic_id", req.ClinicID},
	} {
		id, err := uuid.Parse(field.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+field.name, field.name+" must be a valid UUID")
			return
		}
		ids[i] = id
	}

	appt, err := h.svc.BookAppointment(r.Context(), actorFrom(r.Context()), appointment.BookingRequest{
		VetID:           ids[0],
		PetID:           ids[1],
		ClinicID:        ids[2],
		StartsAt:        req.StartsAt,
		DurationMinutes: req.DurationMinutes,
		Type:            appointment.AppointmentType(req.Type),
		Notes:           req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	actor := actorFrom(r.Context())
	if actor.Role == appointment.RoleClient && actor.UserID != detail.BookedBy &&
		(detail.Pet == nil || detail.Pet.OwnerID != actor.UserID) {
		writeServiceError(w, r, h.logger, appointment.ErrActorNotPermitted)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(*detail))
}

func (h *handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.RescheduleAppointment(r.Context(), actorFrom(r.Context()), id, req.StartsAt, req.DurationMinutes)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.ChangeStatus(r.Context(), actorFrom(r.Context()), id, appointment.AppointmentStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.CancelAppointment(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) slots(w http.ResponseWriter, r *http.Request) {
	vetID, ok := pathUUID(w, r, "vetID")
	if !ok {
		return
	}
	from, to, ok := queryRange(w, r)
	if !ok {
		return
	}
	duration := 0
	if raw := r.URL.Query().Get("duration"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
			return
		}
		duration = n
	}

	seq, err := h.svc.ListAvailableSlots(r.Context(), vetID, from, to, duration)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	slots := slices.Collect(seq)
	if slots == nil {
		slots = []time.Time{}
	}
	writeJSON(w, http.StatusOK, SlotsResponse{VetID: vetID, DurationMinutes: duration, Slots: slots})
}

func (h *handlers) vetAppointments(w http.ResponseWriter, r *http.Request) {
	vetID, ok := pathUUID(w, r, "vetID")
	if !ok {
		return
	}
	if actorFrom(r.Context()).Role == appointment.RoleClient {
		writeServiceError(w, r, h.logger, appointment.ErrActorNotPermitted)
		return
	}
	from, to, ok := queryRange(w, r)
	if !ok {
		return
	}

	appts, err := h.svc.ListVetAppointments(r.Context(), vetID, from, to)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		resp = append(resp, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC 3339 timestamp")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC 3339 timestamp")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
