package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusMissed      AppointmentStatus = "missed"
	StatusRejected    AppointmentStatus = "rejected"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusNoShow      AppointmentStatus = "no-show"
)

var allStatuses = []AppointmentStatus{
	StatusScheduled, StatusCompleted, StatusCancelled, StatusMissed,
	StatusRejected, StatusRescheduled, StatusNoShow,
}

// OccupyingStatuses consume a (doctor, date, slot) triple.
var OccupyingStatuses = []AppointmentStatus{StatusScheduled, StatusRescheduled}

func ParseStatus(s string) (AppointmentStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func (s AppointmentStatus) Occupies() bool {
	for _, st := range OccupyingStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no outgoing transition exists from s.
func (s AppointmentStatus) Terminal() bool {
	return s != StatusScheduled
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the authenticated user initiating an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID     uuid.UUID
	Name   string
	Email  *string
	Active bool
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	DepartmentID uuid.UUID
	Active       bool
}

type Department struct {
	ID     uuid.UUID
	Name   string
	Active bool
}

// HistoryEntry is one line of an appointment's status log.
type HistoryEntry struct {
	Status    AppointmentStatus
	UpdatedAt time.Time
	Reason    string
	Notes     string
	UpdatedBy Actor
}

// StatusHistory is an append-only status log. The current status of an
// appointment is always the status of the last entry.
type StatusHistory struct {
	entries []HistoryEntry
}

// RestoreHistory rebuilds a log from stored entries, oldest first.
func RestoreHistory(entries []HistoryEntry) StatusHistory {
	cp := make([]HistoryEntry, len(entries))
	copy(cp, entries)
	return StatusHistory{entries: cp}
}

func (h *StatusHistory) Append(e HistoryEntry) {
	h.entries = append(h.entries, e)
}

func (h StatusHistory) Len() int { return len(h.entries) }

// Entries returns a copy of the log.
func (h StatusHistory) Entries() []HistoryEntry {
	cp := make([]HistoryEntry, len(h.entries))
	copy(cp, h.entries)
	return cp
}

func (h StatusHistory) Last() (HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

func (h StatusHistory) Current() AppointmentStatus {
	last, ok := h.Last()
	if !ok {
		return ""
	}
	return last.Status
}

// CompletionRecord is written once, on the scheduled -> completed transition.
type CompletionRecord struct {
	CompletedAt          time.Time  `json:"completedAt"`
	Duration             int        `json:"duration"`
	Symptoms             string     `json:"symptoms,omitempty"`
	Diagnosis            string     `json:"diagnosis,omitempty"`
	FollowUpRequired     bool       `json:"followUpRequired"`
	FollowUpDate         *time.Time `json:"followUpDate,omitempty"`
	FollowUpInstructions string     `json:"followUpInstructions,omitempty"`
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	DepartmentID    uuid.UUID
	AppointmentDate time.Time // midnight UTC of the calendar date
	TimeSlot        string
	Reason          string
	Notes           string
	Prescription    string
	AdminNotes      string
	History         StatusHistory
	Completion      *CompletionRecord
	RescheduledFrom *uuid.UUID
	RescheduledTo   *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) Status() AppointmentStatus {
	return a.History.Current()
}

// VisibleTo reports whether actor may read a. Patients and doctors only see
// appointments they are party to.
func (a *Appointment) VisibleTo(actor Actor) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RolePatient:
		return a.PatientID == actor.ID
	case RoleDoctor:
		return a.DoctorID == actor.ID
	}
	return false
}

// Change is a status transition ready to be persisted. Storage applies it
// only if the appointment is still in From, writing the status and the
// history entry together.
type Change struct {
	AppointmentID uuid.UUID
	From          AppointmentStatus
	Entry         HistoryEntry
	Notes         *string
	Prescription  *string
	AdminNotes    *string
	Completion    *CompletionRecord
	RescheduledTo *uuid.UUID
}

// AppointmentFilter narrows ListAppointments. Zero values mean "any".
type AppointmentFilter struct {
	DoctorID     *uuid.UUID
	PatientID    *uuid.UUID
	DepartmentID *uuid.UUID
	Status       *AppointmentStatus
	DateFrom     *time.Time // inclusive
	DateTo       *time.Time // inclusive
}

type Page[T any] struct {
	Items    []T
	Page     int
	PageSize int
	Total    int
	HasNext  bool
	HasPrev  bool
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// keeps (page-1)*pageSize well inside int range
	maxPage = 1_000_000
)

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page > maxPage {
		page = maxPage
	}
	return page, pageSize
}

// DateOnly truncates t to its calendar date in loc and returns it as
// midnight UTC, the representation used for AppointmentDate.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}
