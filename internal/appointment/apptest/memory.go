// Package apptest provides in-memory collaborators for exercising the
// appointment service without Postgres or Redis.
package apptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Repository is an in-memory appointment.Repository with the same
// occupancy and compare-and-set guarantees as the Postgres one.
type Repository struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*appointment.Appointment
	reported map[uuid.UUID]time.Time
}

func NewRepository() *Repository {
	return &Repository{
		items:    make(map[uuid.UUID]*appointment.Appointment),
		reported: make(map[uuid.UUID]time.Time),
	}
}

func (r *Repository) CreateAppointment(_ context.Context, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkFreeLocked(a); err != nil {
		return err
	}
	r.items[a.ID] = clone(a)
	return nil
}

func (r *Repository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, &appointment.NotFoundError{Entity: "appointment", ID: id.String()}
	}
	return clone(a), nil
}

func (r *Repository) ApplyTransition(_ context.Context, c appointment.Change) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.casLocked(c)
	if err != nil {
		return nil, err
	}
	return clone(a), nil
}

func (r *Repository) Reschedule(_ context.Context, c appointment.Change, next *appointment.Appointment) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[c.AppointmentID]
	if !ok {
		return nil, &appointment.NotFoundError{Entity: "appointment", ID: c.AppointmentID.String()}
	}
	if cur.Status() != c.From {
		return nil, &appointment.StaleStateError{ID: c.AppointmentID, Expected: c.From, Actual: cur.Status()}
	}
	if err := r.checkFreeLocked(next); err != nil {
		return nil, err
	}

	a, err := r.casLocked(c)
	if err != nil {
		return nil, err
	}
	r.items[next.ID] = clone(next)
	return clone(a), nil
}

func (r *Repository) ListAppointments(_ context.Context, f appointment.AppointmentFilter, limit, offset int) ([]appointment.Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []appointment.Appointment
	for _, a := range r.items {
		if matches(a, f) {
			matched = append(matched, *clone(a))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.AppointmentDate.Equal(b.AppointmentDate) {
			return a.AppointmentDate.After(b.AppointmentDate)
		}
		if a.TimeSlot != b.TimeSlot {
			return a.TimeSlot < b.TimeSlot
		}
		return a.ID.String() < b.ID.String()
	})

	total := len(matched)
	if offset < 0 || offset >= total {
		return []appointment.Appointment{}, total, nil
	}
	end := total
	if limit >= 0 && limit < total-offset {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *Repository) OccupiedSlots(_ context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var slots []string
	for _, a := range r.items {
		if a.DoctorID == doctorID && a.AppointmentDate.Equal(date) && a.Status().Occupies() {
			slots = append(slots, a.TimeSlot)
		}
	}
	return slots, nil
}

func (r *Repository) FindOverdue(_ context.Context, before time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range r.items {
		if a.Status() == appointment.StatusScheduled && a.AppointmentDate.Before(before) {
			out = append(out, *clone(a))
		}
	}
	return out, nil
}

func (r *Repository) ClaimOverdueNotices(_ context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []uuid.UUID
	for _, id := range ids {
		a, ok := r.items[id]
		if !ok || a.Status() != appointment.StatusScheduled {
			continue
		}
		if _, done := r.reported[id]; done {
			continue
		}
		r.reported[id] = at
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (r *Repository) Summaries(_ context.Context, from, to time.Time) ([]appointment.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []appointment.Summary
	for _, a := range r.items {
		if a.AppointmentDate.Before(from) || (!to.IsZero() && a.AppointmentDate.After(to)) {
			continue
		}
		out = append(out, appointment.Summary{DoctorID: a.DoctorID, DepartmentID: a.DepartmentID, Status: a.Status()})
	}
	return out, nil
}

// Put stores a as-is, bypassing occupancy checks. Useful for seeding
// states the service would refuse to create.
func (r *Repository) Put(a *appointment.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ID] = clone(a)
}

// Len returns the number of stored appointments.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Repository) checkFreeLocked(a *appointment.Appointment) error {
	for _, other := range r.items {
		if other.DoctorID == a.DoctorID &&
			other.AppointmentDate.Equal(a.AppointmentDate) &&
			other.TimeSlot == a.TimeSlot &&
			other.Status().Occupies() {
			return &appointment.ConflictError{
				DoctorID: a.DoctorID, Date: a.AppointmentDate, Slot: a.TimeSlot, Reason: "already booked",
			}
		}
	}
	return nil
}

func (r *Repository) casLocked(c appointment.Change) (*appointment.Appointment, error) {
	a, ok := r.items[c.AppointmentID]
	if !ok {
		return nil, &appointment.NotFoundError{Entity: "appointment", ID: c.AppointmentID.String()}
	}
	if cur := a.Status(); cur != c.From {
		return nil, &appointment.StaleStateError{ID: a.ID, Expected: c.From, Actual: cur}
	}

	a.History.Append(c.Entry)
	a.UpdatedAt = c.Entry.UpdatedAt
	if c.Notes != nil {
		a.Notes = *c.Notes
	}
	if c.Prescription != nil {
		a.Prescription = *c.Prescription
	}
	if c.AdminNotes != nil {
		a.AdminNotes = *c.AdminNotes
	}
	if c.Completion != nil {
		rec := *c.Completion
		a.Completion = &rec
	}
	if c.RescheduledTo != nil {
		id := *c.RescheduledTo
		a.RescheduledTo = &id
	}
	return a, nil
}

func matches(a *appointment.Appointment, f appointment.AppointmentFilter) bool {
	switch {
	case f.DoctorID != nil && a.DoctorID != *f.DoctorID:
		return false
	case f.PatientID != nil && a.PatientID != *f.PatientID:
		return false
	case f.DepartmentID != nil && a.DepartmentID != *f.DepartmentID:
		return false
	case f.Status != nil && a.Status() != *f.Status:
		return false
	case f.DateFrom != nil && a.AppointmentDate.Before(*f.DateFrom):
		return false
	case f.DateTo != nil && a.AppointmentDate.After(*f.DateTo):
		return false
	}
	return true
}

func clone(a *appointment.Appointment) *appointment.Appointment {
	cp := *a
	cp.History = appointment.RestoreHistory(a.History.Entries())
	if a.Completion != nil {
		rec := *a.Completion
		cp.Completion = &rec
	}
	return &cp
}
