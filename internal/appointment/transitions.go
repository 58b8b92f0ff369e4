package appointment

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Notification event types.
const (
	EventAppointmentBooked      = "appointment_booked"
	EventAppointmentCompleted   = "appointment_completed"
	EventAppointmentCancelled   = "appointment_cancelled"
	EventAppointmentMissed      = "appointment_missed"
	EventAppointmentNoShow      = "appointment_no_show"
	EventAppointmentRejected    = "appointment_rejected"
	EventAppointmentRescheduled = "appointment_rescheduled"
	EventFollowUpScheduled      = "follow_up_scheduled"
	EventAppointmentOverdue     = "appointment_overdue"
)

// CancelReasons is the closed set accepted for cancellations.
var CancelReasons = []string{"Patient request", "Doctor unavailable", "Emergency", "Other"}

// TransitionPayload carries the caller-supplied data for a status change.
// Empty strings mean "not supplied".
type TransitionPayload struct {
	Reason       string
	Notes        string
	Prescription string
	AdminNotes   string

	// ExpectedStatus, when set, must equal the stored status or the call
	// fails with StaleStateError before anything is written.
	ExpectedStatus AppointmentStatus

	Completion *CompletionInput

	// Only for the rescheduled target.
	NewDate *time.Time
	NewSlot string
}

// audience selects notification recipients for a committed transition.
type audience struct {
	patient bool
	doctor  bool
	admins  bool
	// skipActor drops whichever party performed the transition.
	skipActor bool
}

type transitionKey struct {
	from AppointmentStatus
	to   AppointmentStatus
}

type transitionRule struct {
	roles    []Role
	validate func(p TransitionPayload, verr *ValidationError)
	event    string
	notify   audience

	prescription bool // prescription may be written
	completion   bool // runs the completion recorder
	afterStart   bool // only once the slot has started
	cancelCutoff bool // patients are bound by the cancel cutoff
}

var transitions = map[transitionKey]transitionRule{
	{StatusScheduled, StatusCompleted}: {
		roles:        []Role{RoleDoctor},
		event:        EventAppointmentCompleted,
		notify:       audience{patient: true, admins: true},
		prescription: true,
		completion:   true,
	},
	{StatusScheduled, StatusCancelled}: {
		roles:        []Role{RolePatient, RoleDoctor, RoleAdmin},
		validate:     validateCancelReason,
		event:        EventAppointmentCancelled,
		notify:       audience{patient: true, doctor: true, skipActor: true},
		cancelCutoff: true,
	},
	{StatusScheduled, StatusMissed}: {
		roles:      []Role{RoleDoctor, RoleAdmin},
		validate:   requireReason,
		event:      EventAppointmentMissed,
		notify:     audience{patient: true, admins: true},
		afterStart: true,
	},
	{StatusScheduled, StatusNoShow}: {
		roles:      []Role{RoleDoctor, RoleAdmin},
		validate:   requireReason,
		event:      EventAppointmentNoShow,
		notify:     audience{patient: true, admins: true},
		afterStart: true,
	},
	{StatusScheduled, StatusRejected}: {
		roles:    []Role{RoleAdmin},
		validate: requireReason,
		event:    EventAppointmentRejected,
		notify:   audience{patient: true},
	},
	{StatusScheduled, StatusRescheduled}: {
		roles:    []Role{RoleAdmin},
		validate: requireNewSlot,
		event:    EventAppointmentRescheduled,
		notify:   audience{patient: true, doctor: true},
	},
}

func requireReason(p TransitionPayload, verr *ValidationError) {
	if p.Reason == "" {
		verr.Add("reason", "is required")
	}
}

func validateCancelReason(p TransitionPayload, verr *ValidationError) {
	if p.Reason == "" {
		verr.Add("reason", "is required")
		return
	}
	for _, r := range CancelReasons {
		if p.Reason == r {
			return
		}
	}
	verr.Add("reason", "must be one of: Patient request, Doctor unavailable, Emergency, Other")
}

func requireNewSlot(p TransitionPayload, verr *ValidationError) {
	if p.NewDate == nil || p.NewDate.IsZero() {
		verr.Add("appointmentDate", "is required")
	}
	if p.NewSlot == "" {
		verr.Add("timeSlot", "is required")
	}
}

// CanTransition reports whether role may move an appointment from -> to,
// ignoring ownership and payload.
func CanTransition(from, to AppointmentStatus, role Role) bool {
	rule, ok := transitions[transitionKey{from, to}]
	return ok && rule.allows(role)
}

func (r transitionRule) allows(role Role) bool {
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// authorize looks up the rule for moving a to the target status and checks
// the actor against it.
func authorize(a *Appointment, actor Actor, to AppointmentStatus) (transitionRule, error) {
	from := a.Status()
	forbidden := func(reason string) error {
		return &ForbiddenTransitionError{From: from, To: to, Role: actor.Role, Reason: reason}
	}

	if from.Terminal() {
		return transitionRule{}, forbidden("no transition leaves a terminal status")
	}
	rule, ok := transitions[transitionKey{from, to}]
	if !ok {
		return transitionRule{}, forbidden("transition is not defined")
	}
	if !rule.allows(actor.Role) {
		return transitionRule{}, forbidden("role is not allowed")
	}

	switch actor.Role {
	case RolePatient:
		if a.PatientID != actor.ID {
			return transitionRule{}, forbidden("patients may only act on their own appointments")
		}
	case RoleDoctor:
		if a.DoctorID != actor.ID {
			return transitionRule{}, forbidden("doctors may only act on their own appointments")
		}
	}
	return rule, nil
}

// validatePayload checks the fields common to every transition plus the
// rule's own requirements.
func (r transitionRule) validatePayload(actor Actor, p TransitionPayload, verr *ValidationError) {
	if r.validate != nil {
		r.validate(p, verr)
	}
	if utf8.RuneCountInString(p.Reason) > maxReasonLen {
		verr.Add("reason", "is too long")
	}
	// the completion recorder checks notes itself
	if !r.completion && utf8.RuneCountInString(p.Notes) > maxNotesLen {
		verr.Add("notes", "is too long")
	}
	if p.Prescription != "" && !r.prescription {
		verr.Add("prescription", "can only be written when completing")
	}
	if p.AdminNotes != "" {
		switch {
		case actor.Role != RoleAdmin:
			verr.Add("adminNotes", "can only be written by an admin")
		case utf8.RuneCountInString(p.AdminNotes) > maxAdminNotesLen:
			verr.Add("adminNotes", "is too long")
		}
	}
	if p.Completion != nil && !r.completion {
		verr.Add("completion", "is only accepted when completing")
	}
}

// recipients resolves the audience for a committed transition on a.
func (au audience) recipients(a *Appointment, actor Actor, admins []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	if au.patient && !(au.skipActor && actor.Role == RolePatient) {
		out = append(out, a.PatientID)
	}
	if au.doctor && !(au.skipActor && actor.Role == RoleDoctor) {
		out = append(out, a.DoctorID)
	}
	if au.admins {
		out = append(out, admins...)
	}
	return dedupe(out)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
