package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestBuildCompletionRecord(t *testing.T) {
	completedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	later := completedAt.Add(14 * 24 * time.Hour)
	earlier := completedAt.Add(-time.Hour)

	tests := []struct {
		name       string
		in         CompletionInput
		wantFields []string
	}{
		{"minimal", CompletionInput{Duration: intPtr(30)}, nil},
		{"upper bound", CompletionInput{Duration: intPtr(180)}, nil},
		{"follow-up in the future", CompletionInput{Duration: intPtr(20), FollowUpRequired: true, FollowUpDate: &later}, nil},
		{"missing duration", CompletionInput{}, []string{"duration"}},
		{"zero duration", CompletionInput{Duration: intPtr(0)}, []string{"duration"}},
		{"negative duration", CompletionInput{Duration: intPtr(-5)}, []string{"duration"}},
		{"too long", CompletionInput{Duration: intPtr(181)}, []string{"duration"}},
		{"follow-up without date", CompletionInput{Duration: intPtr(30), FollowUpRequired: true}, []string{"followUpDate"}},
		{"follow-up in the past", CompletionInput{Duration: intPtr(30), FollowUpRequired: true, FollowUpDate: &earlier}, []string{"followUpDate"}},
		{"follow-up at completion", CompletionInput{Duration: intPtr(30), FollowUpRequired: true, FollowUpDate: &completedAt}, []string{"followUpDate"}},
		{"everything wrong", CompletionInput{FollowUpRequired: true}, []string{"duration", "followUpDate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := BuildCompletionRecord(tt.in, completedAt, 180)
			if tt.wantFields == nil {
				require.NoError(t, err)
				assert.Equal(t, completedAt, rec.CompletedAt)
				assert.Equal(t, *tt.in.Duration, rec.Duration)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Nil(t, rec)
			assert.ElementsMatch(t, tt.wantFields, fieldNames(t, err))
		})
	}
}

func TestBuildCompletionRecordDropsFollowUpWhenNotRequired(t *testing.T) {
	completedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	past := completedAt.Add(-48 * time.Hour)

	rec, err := BuildCompletionRecord(CompletionInput{
		Duration:             intPtr(15),
		Diagnosis:            "seasonal allergy",
		FollowUpDate:         &past,
		FollowUpInstructions: "come back",
	}, completedAt, 180)
	require.NoError(t, err)

	assert.False(t, rec.FollowUpRequired)
	assert.Nil(t, rec.FollowUpDate)
	assert.Empty(t, rec.FollowUpInstructions)
	assert.Equal(t, "seasonal allergy", rec.Diagnosis)
}

func TestBuildCompletionRecordCopiesFollowUpDate(t *testing.T) {
	completedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	follow := completedAt.AddDate(0, 1, 0)

	rec, err := BuildCompletionRecord(CompletionInput{
		Duration:             intPtr(45),
		FollowUpRequired:     true,
		FollowUpDate:         &follow,
		FollowUpInstructions: "bring lab results",
	}, completedAt, 180)
	require.NoError(t, err)

	follow = follow.AddDate(1, 0, 0)
	assert.Equal(t, completedAt.AddDate(0, 1, 0), *rec.FollowUpDate)
	assert.Equal(t, "bring lab results", rec.FollowUpInstructions)
}
