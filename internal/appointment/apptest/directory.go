package apptest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Directory is an in-memory appointment.Directory.
type Directory struct {
	mu          sync.RWMutex
	patients    map[uuid.UUID]appointment.Patient
	doctors     map[uuid.UUID]appointment.Doctor
	departments map[uuid.UUID]appointment.Department
	templates   map[uuid.UUID]appointment.AvailabilityTemplate
	admins      []uuid.UUID

	// AdminErr, when set, is returned by ListAdminIDs.
	AdminErr error
}

func NewDirectory() *Directory {
	return &Directory{
		patients:    make(map[uuid.UUID]appointment.Patient),
		doctors:     make(map[uuid.UUID]appointment.Doctor),
		departments: make(map[uuid.UUID]appointment.Department),
		templates:   make(map[uuid.UUID]appointment.AvailabilityTemplate),
	}
}

func (d *Directory) AddPatient(p appointment.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *Directory) AddDoctor(doc appointment.Doctor, tmpl appointment.AvailabilityTemplate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doctors[doc.ID] = doc
	tmpl.DoctorID = doc.ID
	d.templates[doc.ID] = tmpl
}

func (d *Directory) AddDepartment(dept appointment.Department) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.departments[dept.ID] = dept
}

func (d *Directory) AddAdmin(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.admins = append(d.admins, id)
}

func (d *Directory) GetPatient(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, &appointment.NotFoundError{Entity: "patient", ID: id.String()}
	}
	return &p, nil
}

func (d *Directory) GetDoctor(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, &appointment.NotFoundError{Entity: "doctor", ID: id.String()}
	}
	return &doc, nil
}

func (d *Directory) GetDepartment(_ context.Context, id uuid.UUID) (*appointment.Department, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dept, ok := d.departments[id]
	if !ok {
		return nil, &appointment.NotFoundError{Entity: "department", ID: id.String()}
	}
	return &dept, nil
}

func (d *Directory) GetTemplate(_ context.Context, doctorID uuid.UUID) (*appointment.AvailabilityTemplate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tmpl, ok := d.templates[doctorID]
	if !ok {
		return &appointment.AvailabilityTemplate{DoctorID: doctorID}, nil
	}
	return &tmpl, nil
}

func (d *Directory) ListAdminIDs(context.Context) ([]uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.AdminErr != nil {
		return nil, d.AdminErr
	}
	return append([]uuid.UUID(nil), d.admins...), nil
}
