package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PgDirectory reads patients, doctors, departments and availability
// templates. The scheduler never writes these tables.
type PgDirectory struct {
	db DB
}

func NewPgDirectory(db DB) *PgDirectory {
	return &PgDirectory{db: db}
}

func (d *PgDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := d.db.QueryRow(ctx, `
		SELECT id, name, email, active
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("patient", id)
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return &p, nil
}

func (d *PgDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc Doctor
	err := d.db.QueryRow(ctx, `
		SELECT id, name, department_id, active
		FROM doctors
		WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Name, &doc.DepartmentID, &doc.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("doctor", id)
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return &doc, nil
}

func (d *PgDirectory) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	var dept Department
	err := d.db.QueryRow(ctx, `
		SELECT id, name, active
		FROM departments
		WHERE id = $1
	`, id).Scan(&dept.ID, &dept.Name, &dept.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("department", id)
		}
		return nil, fmt.Errorf("load department: %w", err)
	}
	return &dept, nil
}

func (d *PgDirectory) GetTemplate(ctx context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error) {
	rows, err := d.db.Query(ctx, `
		SELECT weekday, slots
		FROM doctor_availability
		WHERE doctor_id = $1
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer rows.Close()

	tmpl := &AvailabilityTemplate{DoctorID: doctorID, WeeklySlots: make(map[time.Weekday][]string)}
	for rows.Next() {
		var (
			weekday int16
			slots   []string
		)
		if err := rows.Scan(&weekday, &slots); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		if weekday < 0 || weekday > 6 {
			return nil, fmt.Errorf("doctor %s: weekday %d out of range", doctorID, weekday)
		}
		tmpl.WeeklySlots[time.Weekday(weekday)] = slots
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	return tmpl, nil
}

func (d *PgDirectory) ListAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := d.db.Query(ctx, `SELECT id FROM admins WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveTemplate replaces a doctor's weekly slots. Used by seeding and
// admin tooling, not by the scheduler.
func (d *PgDirectory) SaveTemplate(ctx context.Context, tmpl AvailabilityTemplate) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, `DELETE FROM doctor_availability WHERE doctor_id = $1`, tmpl.DoctorID); err != nil {
		return fmt.Errorf("clear availability: %w", err)
	}
	for day, slots := range tmpl.WeeklySlots {
		if len(slots) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_availability (doctor_id, weekday, slots)
			VALUES ($1, $2, $3)
		`, tmpl.DoctorID, int16(day), slots); err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}
	}
	return tx.Commit(ctx)
}
