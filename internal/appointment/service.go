package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var tracer = otel.Tracer("clinic/appointment")

// BookingRequest asks for a new appointment in a specific slot.
type BookingRequest struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	DepartmentID uuid.UUID
	Date         time.Time
	TimeSlot     string
	Reason       string
	Notes        string
}

// RescheduleRequest moves a scheduled appointment to a new date and slot
// with the same doctor.
type RescheduleRequest struct {
	Date       time.Time
	TimeSlot   string
	Reason     string
	Notes      string
	AdminNotes string
}

type Service struct {
	repo     Repository
	dir      Directory
	locker   redisclient.Locker
	notifier Notifier
	log      zerolog.Logger
	metrics  *metrics.SchedulingMetrics

	loc           *time.Location
	cancelCutoff  time.Duration
	maxDuration   int
	overdueAfter  time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the scheduler. locker and notifier may be nil: storage
// uniqueness is the booking guard and notifications are best effort.
func NewService(repo Repository, dir Directory, locker redisclient.Locker, notifier Notifier, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		dir:           dir,
		locker:        locker,
		notifier:      notifier,
		log:           zerolog.Nop(),
		loc:           cfg.Location(),
		cancelCutoff:  cfg.CancelCutoff,
		maxDuration:   cfg.MaxVisitDuration,
		overdueAfter:  cfg.OverdueAfter,
		notifyTimeout: cfg.NotifyTimeout,
		now:           time.Now,
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = 3 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveAvailableSlots returns the doctor's template slots for date that
// no occupying appointment holds, in template order.
func (s *Service) ResolveAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) (slots []string, err error) {
	ctx, span := tracer.Start(ctx, "appointment.resolve_slots")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(
		attribute.String("doctor.id", doctorID.String()),
		attribute.String("appointment.date", date.Format(time.DateOnly)),
	)

	doctor, err := s.dir.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return []string{}, nil
	}

	tmpl, err := s.dir.GetTemplate(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability template: %w", err)
	}

	day := calendarDate(date)
	daySlots := tmpl.SlotsFor(day)
	if len(daySlots) == 0 {
		return []string{}, nil
	}

	occupied, err := s.repo.OccupiedSlots(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("load occupied slots: %w", err)
	}

	return freeSlots(daySlots, occupied), nil
}

// BookAppointment creates a scheduled appointment. Patients book for
// themselves, admins on behalf of any patient.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookingRequest) (created *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer func() {
		finishSpan(span, err)
		s.metrics.ObserveBooking(resultLabel(err))
	}()
	span.SetAttributes(
		attribute.String("doctor.id", req.DoctorID.String()),
		attribute.String("appointment.date", req.Date.Format(time.DateOnly)),
		attribute.String("appointment.slot", req.TimeSlot),
	)

	switch {
	case actor.Role == RoleAdmin:
	case actor.Role == RolePatient && actor.ID == req.PatientID:
	default:
		return nil, &ForbiddenTransitionError{To: StatusScheduled, Role: actor.Role,
			Reason: "only the patient or an admin can book"}
	}

	patient, err := s.dir.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if !patient.Active {
		return nil, notFound("patient", req.PatientID)
	}
	doctor, err := s.dir.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, notFound("doctor", req.DoctorID)
	}
	dept, err := s.dir.GetDepartment(ctx, req.DepartmentID)
	if err != nil {
		return nil, err
	}
	if !dept.Active {
		return nil, notFound("department", req.DepartmentID)
	}

	tmpl, err := s.dir.GetTemplate(ctx, req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability template: %w", err)
	}

	now := s.now()
	day := calendarDate(req.Date)

	verr := &ValidationError{}
	if doctor.DepartmentID != req.DepartmentID {
		verr.Add("departmentId", "doctor does not belong to this department")
	}
	switch n := utf8.RuneCountInString(req.Reason); {
	case n == 0:
		verr.Add("reason", "is required")
	case n > maxReasonLen:
		verr.Add("reason", "is too long")
	}
	if utf8.RuneCountInString(req.Notes) > maxNotesLen {
		verr.Add("notes", "is too long")
	}
	s.validateSlot(tmpl, day, req.TimeSlot, now, verr)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		DepartmentID:    req.DepartmentID,
		AppointmentDate: day,
		TimeSlot:        req.TimeSlot,
		Reason:          req.Reason,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a.History.Append(HistoryEntry{
		Status:    StatusScheduled,
		UpdatedAt: now,
		Reason:    "Appointment booked",
		Notes:     req.Notes,
		UpdatedBy: actor,
	})

	err = s.withSlot(ctx, req.DoctorID, day, req.TimeSlot, func(ctx context.Context) error {
		return s.repo.CreateAppointment(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", day.Format(time.DateOnly)).
		Str("slot", a.TimeSlot).
		Msg("appointment booked")

	s.notify(ctx, EventAppointmentBooked, []uuid.UUID{a.PatientID, a.DoctorID}, eventPayload(a, actor))

	return a, nil
}

// Transition moves an appointment to target on behalf of actor. Moving to
// rescheduled books the new slot as well and returns the old record.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, actor Actor, target AppointmentStatus, p TransitionPayload) (updated *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.transition")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("appointment.target_status", string(target)),
		attribute.String("actor.role", string(actor.Role)),
	)

	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status()
	defer func() {
		s.metrics.ObserveTransition(string(from), string(target), resultLabel(err))
	}()

	if p.ExpectedStatus != "" && p.ExpectedStatus != from {
		return nil, &StaleStateError{ID: id, Expected: p.ExpectedStatus, Actual: from}
	}

	rule, err := authorize(a, actor, target)
	if err != nil {
		return nil, err
	}

	if target == StatusRescheduled {
		old, _, err := s.reschedule(ctx, a, actor, rule, p)
		return old, err
	}

	now := s.now()
	slotStart, err := SlotStart(a.AppointmentDate, a.TimeSlot, s.loc)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}

	if rule.cancelCutoff && actor.Role == RolePatient && s.cancelCutoff > 0 && slotStart.Sub(now) < s.cancelCutoff {
		return nil, &ForbiddenTransitionError{From: from, To: target, Role: actor.Role,
			Reason: fmt.Sprintf("patients must cancel at least %s before the appointment", s.cancelCutoff)}
	}

	verr := &ValidationError{}
	rule.validatePayload(actor, p, verr)
	if rule.afterStart && now.Before(slotStart) {
		verr.Add("status", "cannot be recorded before the appointment starts")
	}

	var rec *CompletionRecord
	if rule.completion {
		in := CompletionInput{}
		if p.Completion != nil {
			in = *p.Completion
		}
		if in.Notes == "" {
			in.Notes = p.Notes
		}
		if in.Prescription == "" {
			in.Prescription = p.Prescription
		}
		rec, err = BuildCompletionRecord(in, now, s.maxDuration)
		var cerr *ValidationError
		if errors.As(err, &cerr) {
			verr.Fields = append(verr.Fields, cerr.Fields...)
		}
		if rec != nil {
			p.Notes, p.Prescription = in.Notes, in.Prescription
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	change := Change{
		AppointmentID: a.ID,
		From:          from,
		Entry: HistoryEntry{
			Status:    target,
			UpdatedAt: now,
			Reason:    p.Reason,
			Notes:     p.Notes,
			UpdatedBy: actor,
		},
		Notes:        optional(p.Notes),
		Prescription: optional(p.Prescription),
		AdminNotes:   optional(p.AdminNotes),
		Completion:   rec,
	}

	updated, err = s.repo.ApplyTransition(ctx, change)
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("appointment_id", a.ID.String()).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor_role", string(actor.Role)).
		Msg("appointment transitioned")

	payload := eventPayload(updated, actor)
	payload["previous_status"] = string(from)
	if p.Reason != "" {
		payload["reason"] = p.Reason
	}
	s.notify(ctx, rule.event, s.audienceFor(ctx, rule.notify, updated, actor), payload)

	if rec != nil && rec.FollowUpRequired {
		fp := eventPayload(updated, actor)
		fp["follow_up_date"] = rec.FollowUpDate.Format(time.RFC3339)
		if rec.FollowUpInstructions != "" {
			fp["follow_up_instructions"] = rec.FollowUpInstructions
		}
		s.notify(ctx, EventFollowUpScheduled, []uuid.UUID{updated.PatientID}, fp)
	}

	return updated, nil
}

// Reschedule marks a scheduled appointment rescheduled and books its
// replacement in one write. Only admins may reschedule.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actor Actor, req RescheduleRequest) (old, next *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.reschedule")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("appointment.date", req.Date.Format(time.DateOnly)),
		attribute.String("appointment.slot", req.TimeSlot),
	)

	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	from := a.Status()
	defer func() {
		s.metrics.ObserveTransition(string(from), string(StatusRescheduled), resultLabel(err))
	}()

	rule, err := authorize(a, actor, StatusRescheduled)
	if err != nil {
		return nil, nil, err
	}

	date := req.Date
	return s.reschedule(ctx, a, actor, rule, TransitionPayload{
		Reason:     req.Reason,
		Notes:      req.Notes,
		AdminNotes: req.AdminNotes,
		NewDate:    &date,
		NewSlot:    req.TimeSlot,
	})
}

func (s *Service) reschedule(ctx context.Context, a *Appointment, actor Actor, rule transitionRule, p TransitionPayload) (*Appointment, *Appointment, error) {
	verr := &ValidationError{}
	rule.validatePayload(actor, p, verr)
	if err := verr.Err(); err != nil {
		return nil, nil, err
	}

	tmpl, err := s.dir.GetTemplate(ctx, a.DoctorID)
	if err != nil {
		return nil, nil, fmt.Errorf("load availability template: %w", err)
	}

	now := s.now()
	day := calendarDate(*p.NewDate)
	s.validateSlot(tmpl, day, p.NewSlot, now, verr)
	if err := verr.Err(); err != nil {
		return nil, nil, err
	}

	next := &Appointment{
		ID:              uuid.New(),
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		DepartmentID:    a.DepartmentID,
		AppointmentDate: day,
		TimeSlot:        p.NewSlot,
		Reason:          a.Reason,
		Notes:           a.Notes,
		RescheduledFrom: &a.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	next.History.Append(HistoryEntry{
		Status:    StatusScheduled,
		UpdatedAt: now,
		Reason:    "Rescheduled from " + a.ID.String(),
		Notes:     p.Notes,
		UpdatedBy: actor,
	})

	reason := p.Reason
	if reason == "" {
		reason = fmt.Sprintf("Rescheduled to %s %s", day.Format(time.DateOnly), p.NewSlot)
	}
	change := Change{
		AppointmentID: a.ID,
		From:          StatusScheduled,
		Entry: HistoryEntry{
			Status:    StatusRescheduled,
			UpdatedAt: now,
			Reason:    reason,
			Notes:     p.Notes,
			UpdatedBy: actor,
		},
		AdminNotes:    optional(p.AdminNotes),
		RescheduledTo: &next.ID,
	}

	var old *Appointment
	err = s.withSlot(ctx, a.DoctorID, day, p.NewSlot, func(ctx context.Context) error {
		var err error
		old, err = s.repo.Reschedule(ctx, change, next)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("appointment_id", old.ID.String()).
		Str("rescheduled_to", next.ID.String()).
		Str("date", day.Format(time.DateOnly)).
		Str("slot", next.TimeSlot).
		Msg("appointment rescheduled")

	payload := eventPayload(next, actor)
	payload["previous_appointment_id"] = old.ID.String()
	payload["previous_date"] = old.AppointmentDate.Format(time.DateOnly)
	payload["previous_time_slot"] = old.TimeSlot
	s.notify(ctx, rule.event, s.audienceFor(ctx, rule.notify, old, actor), payload)

	return old, next, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListAppointments pages through appointments matching f, newest date first.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, page, pageSize int) (Page[Appointment], error) {
	page, pageSize = normalizePage(page, pageSize)

	items, total, err := s.repo.ListAppointments(ctx, f, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page[Appointment]{}, fmt.Errorf("list appointments: %w", err)
	}
	if items == nil {
		items = []Appointment{}
	}

	return Page[Appointment]{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasNext:  page*pageSize < total,
		HasPrev:  page > 1,
	}, nil
}

// ListOverdue returns scheduled appointments whose date lies before
// now - overdueAfter, truncated to a calendar day.
func (s *Service) ListOverdue(ctx context.Context) ([]Appointment, error) {
	before := DateOnly(s.now().Add(-s.overdueAfter), s.loc)
	items, err := s.repo.FindOverdue(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("find overdue appointments: %w", err)
	}
	return items, nil
}

// NotifyOverdue sends admins one notification listing the overdue
// appointments not reported by an earlier run. Each appointment is
// reported once. It returns how many were reported.
func (s *Service) NotifyOverdue(ctx context.Context) (int, error) {
	overdue, err := s.ListOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	admins := s.adminIDs(ctx)
	if len(admins) == 0 {
		s.log.Warn().Int("overdue", len(overdue)).Msg("no admins to notify about overdue appointments")
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(overdue))
	for _, a := range overdue {
		ids = append(ids, a.ID)
	}
	claimed, err := s.repo.ClaimOverdueNotices(ctx, ids, s.now())
	if err != nil {
		return 0, fmt.Errorf("claim overdue notices: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	listed := make([]string, 0, len(claimed))
	for _, id := range claimed {
		listed = append(listed, id.String())
	}
	s.notify(ctx, EventAppointmentOverdue, admins, map[string]any{
		"appointment_ids": listed,
		"count":           len(listed),
	})
	return len(claimed), nil
}

// Statistics aggregates appointments dated within period.
func (s *Service) Statistics(ctx context.Context, period Period) (*Statistics, error) {
	from, to := period.Window(s.now(), s.loc)

	rows, err := s.repo.Summaries(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load appointment summaries: %w", err)
	}

	st := computeStatistics(period, rows)

	for i := range st.DepartmentStats {
		if d, err := s.dir.GetDepartment(ctx, st.DepartmentStats[i].DepartmentID); err == nil {
			st.DepartmentStats[i].Name = d.Name
		}
	}
	for i := range st.TopDoctors {
		if d, err := s.dir.GetDoctor(ctx, st.TopDoctors[i].DoctorID); err == nil {
			st.TopDoctors[i].Name = d.Name
		}
	}
	return st, nil
}

// validateSlot records problems with booking slot on day as of now.
func (s *Service) validateSlot(tmpl *AvailabilityTemplate, day time.Time, slot string, now time.Time, verr *ValidationError) {
	if day.Before(DateOnly(now, s.loc)) {
		verr.Add("appointmentDate", "must not be in the past")
		return
	}
	if slot == "" {
		verr.Add("timeSlot", "is required")
		return
	}
	if !tmpl.Offers(day, slot) {
		verr.Add("timeSlot", "is not offered by this doctor on that day")
		return
	}
	if start, err := SlotStart(day, slot, s.loc); err == nil && !start.After(now) {
		verr.Add("timeSlot", "has already started")
	}
}

// withSlot runs write under the slot lock when one is configured. The
// occupancy read inside is advisory; the storage constraint decides.
func (s *Service) withSlot(ctx context.Context, doctorID uuid.UUID, day time.Time, slot string, write func(ctx context.Context) error) error {
	guarded := func(ctx context.Context) error {
		occupied, err := s.repo.OccupiedSlots(ctx, doctorID, day)
		if err != nil {
			return fmt.Errorf("load occupied slots: %w", err)
		}
		if slices.Contains(occupied, slot) {
			return &ConflictError{DoctorID: doctorID, Date: day, Slot: slot, Reason: "already booked"}
		}
		return write(ctx)
	}

	if s.locker == nil {
		return guarded(ctx)
	}

	err := s.locker.WithLock(ctx, redisclient.SlotKey(doctorID, day, slot), guarded)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return &ConflictError{DoctorID: doctorID, Date: day, Slot: slot, Reason: "being booked by another request"}
	}
	return err
}

func (s *Service) audienceFor(ctx context.Context, au audience, a *Appointment, actor Actor) []uuid.UUID {
	var admins []uuid.UUID
	if au.admins {
		admins = s.adminIDs(ctx)
	}
	return au.recipients(a, actor, admins)
}

func (s *Service) adminIDs(ctx context.Context) []uuid.UUID {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	ids, err := s.dir.ListAdminIDs(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load admin recipients")
		return nil
	}
	return ids
}

// notify hands the event off after commit. Failures are logged and never
// reach the caller.
func (s *Service) notify(ctx context.Context, eventType string, recipients []uuid.UUID, payload map[string]any) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), eventType, recipients, payload); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to dispatch notification")
	}
}

func eventPayload(a *Appointment, actor Actor) map[string]any {
	return map[string]any{
		"appointment_id": a.ID.String(),
		"patient_id":     a.PatientID.String(),
		"doctor_id":      a.DoctorID.String(),
		"department_id":  a.DepartmentID.String(),
		"date":           a.AppointmentDate.Format(time.DateOnly),
		"time_slot":      a.TimeSlot,
		"status":         string(a.Status()),
		"actor_id":       actor.ID.String(),
		"actor_role":     string(actor.Role),
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbiddenTransition):
		return "forbidden"
	case errors.Is(err, ErrStaleState):
		return "stale"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// calendarDate drops the clock part of a date that already names a
// calendar day, e.g. one parsed from YYYY-MM-DD.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
