package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Directory is the read-only view of the people and departments the
// scheduler references. Lookups of missing entities return the matching
// NotFoundError.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error)

	// GetTemplate returns the doctor's weekly slots. A doctor without any
	// configured day gets an empty template, not an error.
	GetTemplate(ctx context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error)

	ListAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Notifier hands notifications to the delivery side. Callers treat it as
// best effort.
type Notifier interface {
	Notify(ctx context.Context, eventType string, recipients []uuid.UUID, payload map[string]any) error
}
