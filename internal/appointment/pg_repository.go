package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is satisfied by both DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, department_id, appointment_date, time_slot,
	reason, notes, prescription, admin_notes, completion_details,
	rescheduled_from, rescheduled_to, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var completion []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.DepartmentID,
		&a.AppointmentDate,
		&a.TimeSlot,
		&a.Reason,
		&a.Notes,
		&a.Prescription,
		&a.AdminNotes,
		&completion,
		&a.RescheduledFrom,
		&a.RescheduledTo,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if len(completion) > 0 {
		var rec CompletionRecord
		if err := json.Unmarshal(completion, &rec); err != nil {
			return nil, fmt.Errorf("decode completion details for %s: %w", a.ID, err)
		}
		a.Completion = &rec
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// loadHistories fills History for every appointment in items.
func loadHistories(ctx context.Context, q querier, items []Appointment) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for i, a := range items {
		ids[i] = a.ID
		index[a.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT appointment_id, status, reason, notes, updated_by_id, updated_by_role, updated_at
		FROM appointment_status_history
		WHERE appointment_id = ANY($1)
		ORDER BY appointment_id, id
	`, ids)
	if err != nil {
		return fmt.Errorf("load status history: %w", err)
	}
	defer rows.Close()

	entries := make(map[uuid.UUID][]HistoryEntry, len(items))
	for rows.Next() {
		var (
			apptID       uuid.UUID
			status, role string
			e            HistoryEntry
		)
		if err := rows.Scan(&apptID, &status, &e.Reason, &e.Notes, &e.UpdatedBy.ID, &role, &e.UpdatedAt); err != nil {
			return fmt.Errorf("scan status history: %w", err)
		}
		e.Status = AppointmentStatus(status)
		e.UpdatedBy.Role = Role(role)
		entries[apptID] = append(entries[apptID], e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load status history: %w", err)
	}

	for id, es := range entries {
		if i, ok := index[id]; ok {
			items[i].History = RestoreHistory(es)
		}
	}
	return nil
}

func getAppointment(ctx context.Context, q querier, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, notFound("appointment", id)
	}
	if err != nil {
		return nil, err
	}

	items := []Appointment{*a}
	if err := loadHistories(ctx, q, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func insertHistory(ctx context.Context, q querier, appointmentID uuid.UUID, e HistoryEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_status_history
			(appointment_id, status, reason, notes, updated_by_id, updated_by_role, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appointmentID, string(e.Status), e.Reason, e.Notes, e.UpdatedBy.ID, string(e.UpdatedBy.Role), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func insertAppointment(ctx context.Context, q querier, a *Appointment) error {
	first, ok := a.History.Last()
	if !ok || a.History.Len() != 1 {
		return fmt.Errorf("new appointment %s must carry exactly one history entry", a.ID)
	}
	completion, err := encodeCompletion(a.Completion)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, department_id, appointment_date, time_slot,
			reason, notes, prescription, admin_notes, completion_details, status,
			rescheduled_from, rescheduled_to, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		a.ID, a.PatientID, a.DoctorID, a.DepartmentID, a.AppointmentDate, a.TimeSlot,
		a.Reason, a.Notes, a.Prescription, a.AdminNotes, completion, string(first.Status),
		a.RescheduledFrom, a.RescheduledTo, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{DoctorID: a.DoctorID, Date: a.AppointmentDate, Slot: a.TimeSlot, Reason: "already booked"}
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	return insertHistory(ctx, q, a.ID, first)
}

// applyChange is the compare-and-set at the heart of every transition.
func applyChange(ctx context.Context, q querier, c Change) error {
	completion, err := encodeCompletion(c.Completion)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = COALESCE($3, notes),
		    prescription = COALESCE($4, prescription),
		    admin_notes = COALESCE($5, admin_notes),
		    completion_details = COALESCE($6, completion_details),
		    rescheduled_to = COALESCE($7, rescheduled_to),
		    updated_at = $8
		WHERE id = $1
		  AND status = $9
	`, c.AppointmentID, string(c.Entry.Status), c.Notes, c.Prescription, c.AdminNotes,
		completion, c.RescheduledTo, c.Entry.UpdatedAt, string(c.From))
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var actual string
		err := q.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, c.AppointmentID).Scan(&actual)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("appointment", c.AppointmentID)
		}
		if err != nil {
			return fmt.Errorf("read appointment status: %w", err)
		}
		return &StaleStateError{ID: c.AppointmentID, Expected: c.From, Actual: AppointmentStatus(actual)}
	}

	return insertHistory(ctx, q, c.AppointmentID, c.Entry)
}

func encodeCompletion(rec *CompletionRecord) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode completion details: %w", err)
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// inTx runs fn in a transaction, rolling back on error or cancellation.
func (r *PgRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Interface methods

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return insertAppointment(ctx, tx, a)
	})
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, r.db, id)
}

func (r *PgRepository) ApplyTransition(ctx context.Context, c Change) (*Appointment, error) {
	var updated *Appointment
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := applyChange(ctx, tx, c); err != nil {
			return err
		}
		a, err := getAppointment(ctx, tx, c.AppointmentID)
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) Reschedule(ctx context.Context, c Change, next *Appointment) (*Appointment, error) {
	var old *Appointment
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := applyChange(ctx, tx, c); err != nil {
			return err
		}
		if err := insertAppointment(ctx, tx, next); err != nil {
			return err
		}
		a, err := getAppointment(ctx, tx, c.AppointmentID)
		if err != nil {
			return err
		}
		old = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return old, nil
}

// filterClause renders f as a WHERE clause and its positional args.
func filterClause(f AppointmentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DepartmentID != nil {
		add("department_id = $%d", *f.DepartmentID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.DateFrom != nil {
		add("appointment_date >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("appointment_date <= $%d", *f.DateTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]Appointment, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM appointments `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY appointment_date DESC, time_slot, id
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	if err := loadHistories(ctx, r.db, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PgRepository) OccupiedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	occupying := make([]string, len(OccupyingStatuses))
	for i, s := range OccupyingStatuses {
		occupying[i] = string(s)
	}

	rows, err := r.db.Query(ctx, `
		SELECT time_slot
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status = ANY($3)
	`, doctorID, date, occupying)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *PgRepository) FindOverdue(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND appointment_date < $1
		ORDER BY appointment_date, time_slot
	`, before)
	if err != nil {
		return nil, err
	}

	items, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}
	if err := loadHistories(ctx, r.db, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *PgRepository) ClaimOverdueNotices(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		UPDATE appointments
		SET overdue_notified_at = $2
		WHERE id = ANY($1)
		  AND status = 'scheduled'
		  AND overdue_notified_at IS NULL
		RETURNING id
	`, ids, at)
	if err != nil {
		return nil, fmt.Errorf("claim overdue notices: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("claim overdue notices: %w", err)
	}
	return claimed, nil
}

func (r *PgRepository) Summaries(ctx context.Context, from, to time.Time) ([]Summary, error) {
	var upper *time.Time
	if !to.IsZero() {
		upper = &to
	}

	rows, err := r.db.Query(ctx, `
		SELECT doctor_id, department_id, status
		FROM appointments
		WHERE appointment_date >= $1
		  AND ($2::date IS NULL OR appointment_date <= $2)
	`, from, upper)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Summary
	for rows.Next() {
		var (
			s      Summary
			status string
		)
		if err := rows.Scan(&s.DoctorID, &s.DepartmentID, &status); err != nil {
			return nil, err
		}
		s.Status = AppointmentStatus(status)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
