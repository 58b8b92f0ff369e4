package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Scheduler is the part of appointment.Service the HTTP layer drives.
type Scheduler interface {
	ResolveAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)
	BookAppointment(ctx context.Context, actor appointment.Actor, req appointment.BookingRequest) (*appointment.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, actor appointment.Actor, target appointment.AppointmentStatus, p appointment.TransitionPayload) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, actor appointment.Actor, req appointment.RescheduleRequest) (*appointment.Appointment, *appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.AppointmentFilter, page, pageSize int) (appointment.Page[appointment.Appointment], error)
	ListOverdue(ctx context.Context) ([]appointment.Appointment, error)
	Statistics(ctx context.Context, period appointment.Period) (*appointment.Statistics, error)
}

type handlers struct {
	svc Scheduler
	log zerolog.Logger
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := writeServiceError(w, err); status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("request failed")
	}
}

func (h *handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		badRequest(w, "doctor_id", "must be a valid UUID")
		return
	}
	date, err := appointment.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		badRequest(w, "date", err.Error())
		return
	}

	slots, err := h.svc.ResolveAvailableSlots(r.Context(), doctorID, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, AvailableSlotsResponse{
		DoctorID: doctorID,
		Date:     date.Format(time.DateOnly),
		Slots:    slots,
	})
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if !checkRequest(w, req) {
		return
	}

	patientID := actor.ID
	if req.PatientID != "" {
		patientID = uuid.MustParse(req.PatientID)
	}

	appt, err := h.svc.BookAppointment(r.Context(), actor, appointment.BookingRequest{
		PatientID:    patientID,
		DoctorID:     uuid.MustParse(req.DoctorID),
		DepartmentID: uuid.MustParse(req.DepartmentID),
		Date:         mustDate(req.AppointmentDate),
		TimeSlot:     req.TimeSlot,
		Reason:       req.Reason,
		Notes:        req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt, actor))
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// hide existence from non-parties
	if !appt.VisibleTo(actor) {
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment "+id.String()+" not found")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt, actor))
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	q := r.URL.Query()

	var f appointment.AppointmentFilter
	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{
		{"doctor_id", &f.DoctorID},
		{"patient_id", &f.PatientID},
		{"department_id", &f.DepartmentID},
	} {
		if v := q.Get(p.name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				badRequest(w, p.name, "must be a valid UUID")
				return
			}
			*p.dst = &id
		}
	}
	if v := q.Get("status"); v != "" {
		st, err := appointment.ParseStatus(v)
		if err != nil {
			badRequest(w, "status", err.Error())
			return
		}
		f.Status = &st
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &f.DateFrom},
		{"to", &f.DateTo},
	} {
		if v := q.Get(p.name); v != "" {
			d, err := appointment.ParseDate(v)
			if err != nil {
				badRequest(w, p.name, err.Error())
				return
			}
			*p.dst = &d
		}
	}

	switch actor.Role {
	case appointment.RolePatient:
		f.PatientID = &actor.ID
	case appointment.RoleDoctor:
		f.DoctorID = &actor.ID
	}

	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	res, err := h.svc.ListAppointments(r.Context(), f, page, pageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := ListResponse{
		Items:    make([]AppointmentResponse, len(res.Items)),
		Page:     res.Page,
		PageSize: res.PageSize,
		Total:    res.Total,
		HasNext:  res.HasNext,
		HasPrev:  res.HasPrev,
	}
	for i := range res.Items {
		out.Items[i] = toResponse(&res.Items[i], actor)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if !checkRequest(w, req) {
		return
	}

	payload := appointment.TransitionPayload{
		Reason:       req.Reason,
		Notes:        req.Notes,
		Prescription: req.Prescription,
		AdminNotes:   req.AdminNotes,
		NewSlot:      req.TimeSlot,
	}
	if req.ExpectedStatus != "" {
		payload.ExpectedStatus = appointment.AppointmentStatus(req.ExpectedStatus)
	}
	if req.AppointmentDate != "" {
		d := mustDate(req.AppointmentDate)
		payload.NewDate = &d
	}
	if c := req.Completion; c != nil {
		in := appointment.CompletionInput{
			Duration:             c.Duration,
			Symptoms:             c.Symptoms,
			Diagnosis:            c.Diagnosis,
			FollowUpRequired:     c.FollowUpRequired,
			FollowUpInstructions: c.FollowUpInstructions,
		}
		if c.FollowUpDate != "" {
			d := mustDate(c.FollowUpDate)
			in.FollowUpDate = &d
		}
		payload.Completion = &in
	}

	appt, err := h.svc.Transition(r.Context(), id, actor, appointment.AppointmentStatus(req.Status), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt, actor))
}

func (h *handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if !checkRequest(w, req) {
		return
	}

	old, next, err := h.svc.Reschedule(r.Context(), id, actor, appointment.RescheduleRequest{
		Date:       mustDate(req.AppointmentDate),
		TimeSlot:   req.TimeSlot,
		Reason:     req.Reason,
		Notes:      req.Notes,
		AdminNotes: req.AdminNotes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RescheduleResponse{
		Previous:    toResponse(old, actor),
		Appointment: toResponse(next, actor),
	})
}

func (h *handlers) overdue(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	items, err := h.svc.ListOverdue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]AppointmentResponse, len(items))
	for i := range items {
		out[i] = toResponse(&items[i], actor)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) statistics(w http.ResponseWriter, r *http.Request) {
	period, err := appointment.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		badRequest(w, "period", err.Error())
		return
	}

	stats, err := h.svc.Statistics(r.Context(), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// mustDate parses a date the validator already accepted.
func mustDate(s string) time.Time {
	d, err := appointment.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// requireRole rejects actors outside roles with 403.
func requireRole(roles ...appointment.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFromContext(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden", "role "+string(actor.Role)+" may not access this resource")
		})
	}
}
