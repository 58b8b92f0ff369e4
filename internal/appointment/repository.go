package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the Appointment Ledger. Implementations must make
// CreateAppointment fail with a ConflictError when another appointment in an
// occupying status already holds the same doctor, date and slot.
type Repository interface {
	// CreateAppointment inserts a and its first history entry together.
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ApplyTransition writes c only if the appointment is still in c.From.
	// The status and the history entry are committed together or not at all.
	// A lost race surfaces as a StaleStateError.
	ApplyTransition(ctx context.Context, c Change) (*Appointment, error)

	// Reschedule applies c to the old appointment and creates next in one
	// transaction.
	Reschedule(ctx context.Context, c Change, next *Appointment) (*Appointment, error)

	ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]Appointment, int, error)

	// OccupiedSlots lists the slots held on date by appointments of the
	// doctor in an occupying status.
	OccupiedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)

	// FindOverdue returns scheduled appointments dated before the cutoff.
	FindOverdue(ctx context.Context, before time.Time) ([]Appointment, error)

	// ClaimOverdueNotices marks the given scheduled appointments as reported
	// overdue at at and returns the ones no earlier call had claimed.
	ClaimOverdueNotices(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)

	// Summaries returns one row per appointment dated within [from, to].
	// A zero to leaves the range open.
	Summaries(ctx context.Context, from, to time.Time) ([]Summary, error)
}

// Summary is the slice of an appointment statistics are computed from.
type Summary struct {
	DoctorID     uuid.UUID
	DepartmentID uuid.UUID
	Status       AppointmentStatus
}
