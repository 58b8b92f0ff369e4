package appointment

import (
	"time"
	"unicode/utf8"
)

const (
	maxReasonLen       = 500
	maxNotesLen        = 1000
	maxAdminNotesLen   = 1000
	maxPrescriptionLen = 2000
)

// CompletionInput is the doctor-supplied data for closing a visit.
type CompletionInput struct {
	Notes                string
	Prescription         string
	Symptoms             string
	Diagnosis            string
	Duration             *int // minutes
	FollowUpRequired     bool
	FollowUpDate         *time.Time
	FollowUpInstructions string
}

// BuildCompletionRecord validates in and assembles the record stamped at
// completedAt. All violations are reported together.
func BuildCompletionRecord(in CompletionInput, completedAt time.Time, maxDuration int) (*CompletionRecord, error) {
	verr := &ValidationError{}

	switch {
	case in.Duration == nil:
		verr.Add("duration", "is required")
	case *in.Duration <= 0:
		verr.Add("duration", "must be a positive number of minutes")
	case maxDuration > 0 && *in.Duration > maxDuration:
		verr.Add("duration", "must not exceed the maximum visit length")
	}

	if utf8.RuneCountInString(in.Notes) > maxNotesLen {
		verr.Add("notes", "is too long")
	}
	if utf8.RuneCountInString(in.Prescription) > maxPrescriptionLen {
		verr.Add("prescription", "is too long")
	}

	if in.FollowUpRequired {
		switch {
		case in.FollowUpDate == nil || in.FollowUpDate.IsZero():
			verr.Add("followUpDate", "is required when follow-up is required")
		case !in.FollowUpDate.After(completedAt):
			verr.Add("followUpDate", "must be after the completion time")
		}
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}

	rec := &CompletionRecord{
		CompletedAt:      completedAt,
		Duration:         *in.Duration,
		Symptoms:         in.Symptoms,
		Diagnosis:        in.Diagnosis,
		FollowUpRequired: in.FollowUpRequired,
	}
	if in.FollowUpRequired {
		d := *in.FollowUpDate
		rec.FollowUpDate = &d
		rec.FollowUpInstructions = in.FollowUpInstructions
	}
	return rec, nil
}
