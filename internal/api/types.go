package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID       string `json:"patient_id" validate:"omitempty,uuid"`
	DoctorID        string `json:"doctor_id" validate:"required,uuid"`
	DepartmentID    string `json:"department_id" validate:"required,uuid"`
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	TimeSlot        string `json:"time_slot"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
}

type CompletionRequest struct {
	Duration             *int   `json:"duration"`
	Symptoms             string `json:"symptoms"`
	Diagnosis            string `json:"diagnosis"`
	FollowUpRequired     bool   `json:"follow_up_required"`
	FollowUpDate         string `json:"follow_up_date" validate:"omitempty,datetime=2006-01-02"`
	FollowUpInstructions string `json:"follow_up_instructions"`
}

type TransitionRequest struct {
	Status         string             `json:"status" validate:"required,oneof=scheduled completed cancelled missed rejected rescheduled no-show"`
	Reason         string             `json:"reason"`
	Notes          string             `json:"notes"`
	Prescription   string             `json:"prescription"`
	AdminNotes     string             `json:"admin_notes"`
	ExpectedStatus string             `json:"expected_status" validate:"omitempty,oneof=scheduled completed cancelled missed rejected rescheduled no-show"`
	Completion     *CompletionRequest `json:"completion"`

	// rescheduled only
	AppointmentDate string `json:"appointment_date" validate:"omitempty,datetime=2006-01-02"`
	TimeSlot        string `json:"time_slot"`
}

type RescheduleRequest struct {
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	TimeSlot        string `json:"time_slot"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
	AdminNotes      string `json:"admin_notes"`
}

type HistoryResponse struct {
	Status        string    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
	Reason        string    `json:"reason,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	UpdatedBy     uuid.UUID `json:"updated_by"`
	UpdatedByRole string    `json:"updated_by_role"`
}

type CompletionResponse struct {
	CompletedAt          time.Time `json:"completed_at"`
	Duration             int       `json:"duration"`
	Symptoms             string    `json:"symptoms,omitempty"`
	Diagnosis            string    `json:"diagnosis,omitempty"`
	FollowUpRequired     bool      `json:"follow_up_required"`
	FollowUpDate         string    `json:"follow_up_date,omitempty"`
	FollowUpInstructions string    `json:"follow_up_instructions,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID           `json:"id"`
	PatientID       uuid.UUID           `json:"patient_id"`
	DoctorID        uuid.UUID           `json:"doctor_id"`
	DepartmentID    uuid.UUID           `json:"department_id"`
	AppointmentDate string              `json:"appointment_date"`
	TimeSlot        string              `json:"time_slot"`
	Status          string              `json:"status"`
	Reason          string              `json:"reason"`
	Notes           string              `json:"notes,omitempty"`
	Prescription    string              `json:"prescription,omitempty"`
	AdminNotes      string              `json:"admin_notes,omitempty"`
	Completion      *CompletionResponse `json:"completion,omitempty"`
	RescheduledFrom *uuid.UUID          `json:"rescheduled_from,omitempty"`
	RescheduledTo   *uuid.UUID          `json:"rescheduled_to,omitempty"`
	History         []HistoryResponse   `json:"history"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type RescheduleResponse struct {
	Previous    AppointmentResponse `json:"previous"`
	Appointment AppointmentResponse `json:"appointment"`
}

type ListResponse struct {
	Items    []AppointmentResponse `json:"items"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Total    int                   `json:"total"`
	HasNext  bool                  `json:"has_next"`
	HasPrev  bool                  `json:"has_prev"`
}

type AvailableSlotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type ErrorResponse struct {
	Error   string                   `json:"error"`
	Details string                   `json:"details,omitempty"`
	Fields  []appointment.FieldError `json:"fields,omitempty"`
}

// toResponse renders a for viewer. Admin notes are only shown to admins.
func toResponse(a *appointment.Appointment, viewer appointment.Actor) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		DepartmentID:    a.DepartmentID,
		AppointmentDate: a.AppointmentDate.Format(time.DateOnly),
		TimeSlot:        a.TimeSlot,
		Status:          string(a.Status()),
		Reason:          a.Reason,
		Notes:           a.Notes,
		Prescription:    a.Prescription,
		RescheduledFrom: a.RescheduledFrom,
		RescheduledTo:   a.RescheduledTo,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if viewer.Role == appointment.RoleAdmin {
		resp.AdminNotes = a.AdminNotes
	}
	if c := a.Completion; c != nil {
		resp.Completion = &CompletionResponse{
			CompletedAt:          c.CompletedAt,
			Duration:             c.Duration,
			Symptoms:             c.Symptoms,
			Diagnosis:            c.Diagnosis,
			FollowUpRequired:     c.FollowUpRequired,
			FollowUpInstructions: c.FollowUpInstructions,
		}
		if c.FollowUpDate != nil {
			resp.Completion.FollowUpDate = c.FollowUpDate.Format(time.DateOnly)
		}
	}

	entries := a.History.Entries()
	resp.History = make([]HistoryResponse, len(entries))
	for i, e := range entries {
		resp.History[i] = HistoryResponse{
			Status:        string(e.Status),
			UpdatedAt:     e.UpdatedAt,
			Reason:        e.Reason,
			Notes:         e.Notes,
			UpdatedBy:     e.UpdatedBy.ID,
			UpdatedByRole: string(e.UpdatedBy.Role),
		}
	}
	return resp
}
