package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("slot is no longer available")
	ErrForbiddenTransition = errors.New("transition not permitted")
	ErrStaleState          = errors.New("appointment state changed")
	ErrValidation          = errors.New("validation failed")
)

var (
	ErrPatientNotFound     = &NotFoundError{Entity: "patient"}
	ErrDoctorNotFound      = &NotFoundError{Entity: "doctor"}
	ErrDepartmentNotFound  = &NotFoundError{Entity: "department"}
	ErrAppointmentNotFound = &NotFoundError{Entity: "appointment"}
)

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is matches ErrNotFound and any NotFoundError of the same entity.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Entity == e.Entity && (t.ID == "" || t.ID == e.ID)
}

func notFound(entity string, id uuid.UUID) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

type ConflictError struct {
	DoctorID uuid.UUID
	Date     time.Time
	Slot     string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s on %s for doctor %s is not available: %s",
		e.Slot, e.Date.Format(time.DateOnly), e.DoctorID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type ForbiddenTransitionError struct {
	From   AppointmentStatus
	To     AppointmentStatus
	Role   Role
	Reason string
}

func (e *ForbiddenTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("creating a %s appointment not permitted for %s: %s", e.To, e.Role, e.Reason)
	}
	return fmt.Sprintf("%s -> %s not permitted for %s: %s", e.From, e.To, e.Role, e.Reason)
}

func (e *ForbiddenTransitionError) Is(target error) bool { return target == ErrForbiddenTransition }

type StaleStateError struct {
	ID       uuid.UUID
	Expected AppointmentStatus
	Actual   AppointmentStatus
}

func (e *StaleStateError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("appointment %s is no longer %s", e.ID, e.Expected)
	}
	return fmt.Sprintf("appointment %s is %s, expected %s", e.ID, e.Actual, e.Expected)
}

func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violated field, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Err returns nil when no field was recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
