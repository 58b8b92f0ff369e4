package appointment_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/appointment/apptest"
	"github.com/hackgods/clinic-scheduling/internal/config"
)

var (
	slotA = "09:00-09:30"
	slotB = "09:30-10:00"
)

type fixture struct {
	svc      *appointment.Service
	repo     *apptest.Repository
	dir      *apptest.Directory
	notifier *apptest.Notifier

	mu  sync.Mutex
	now time.Time

	patient appointment.Actor
	other   appointment.Actor
	doctor  appointment.Actor
	admin   appointment.Actor
	deptID  uuid.UUID
	monday  time.Time
	tuesday time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     apptest.NewRepository(),
		dir:      apptest.NewDirectory(),
		notifier: &apptest.Notifier{},
		// Sunday morning, the day before the booked Monday.
		now:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		patient:  appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient},
		other:    appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient},
		doctor:   appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor},
		admin:    appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin},
		deptID:   uuid.New(),
		monday:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		tuesday:  time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	}

	f.dir.AddDepartment(appointment.Department{ID: f.deptID, Name: "Cardiology", Active: true})
	f.dir.AddPatient(appointment.Patient{ID: f.patient.ID, Name: "Pat", Active: true})
	f.dir.AddPatient(appointment.Patient{ID: f.other.ID, Name: "Other", Active: true})
	f.dir.AddDoctor(
		appointment.Doctor{ID: f.doctor.ID, Name: "Dr. Who", DepartmentID: f.deptID, Active: true},
		appointment.AvailabilityTemplate{WeeklySlots: map[time.Weekday][]string{
			time.Monday:  {slotA, slotB},
			time.Tuesday: {"14:00-14:30"},
		}},
	)
	f.dir.AddAdmin(f.admin.ID)

	cfg := config.Config{
		CancelCutoff:     24 * time.Hour,
		MaxVisitDuration: 180,
		ScheduleTZ:       "UTC",
		OverdueAfter:     24 * time.Hour,
		NotifyTimeout:    time.Second,
	}
	f.svc = appointment.NewService(f.repo, f.dir, nil, f.notifier, cfg, appointment.WithClock(f.clock))
	return f
}

func (f *fixture) book(t *testing.T, actor appointment.Actor, slot string) *appointment.Appointment {
	t.Helper()
	a, err := f.svc.BookAppointment(context.Background(), actor, appointment.BookingRequest{
		PatientID:    f.patient.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.deptID,
		Date:         f.monday,
		TimeSlot:     slot,
		Reason:       "checkup",
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) slots(t *testing.T) []string {
	t.Helper()
	slots, err := f.svc.ResolveAvailableSlots(context.Background(), f.doctor.ID, f.monday)
	require.NoError(t, err)
	return slots
}

func duration(n int) *int { return &n }

func TestBookCompleteReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, []string{slotA, slotB}, f.slots(t))

	a := f.book(t, f.patient, slotA)
	assert.Equal(t, appointment.StatusScheduled, a.Status())
	assert.Equal(t, []string{slotB}, f.slots(t))

	done, err := f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusCompleted, appointment.TransitionPayload{
		Completion: &appointment.CompletionInput{Duration: duration(30)},
	})
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusCompleted, done.Status())
	assert.Equal(t, 2, done.History.Len())
	require.NotNil(t, done.Completion)
	assert.Equal(t, 30, done.Completion.Duration)
	assert.Equal(t, []string{slotA, slotB}, f.slots(t))
}

func TestResolveAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ResolveAvailableSlots(ctx, uuid.New(), f.monday)
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)

	wednesday := f.monday.AddDate(0, 0, 2)
	slots, err := f.svc.ResolveAvailableSlots(ctx, f.doctor.ID, wednesday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestConcurrentBookingSameSlot(t *testing.T) {
	f := newFixture(t)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.BookAppointment(context.Background(), f.admin, appointment.BookingRequest{
				PatientID:    f.patient.ID,
				DoctorID:     f.doctor.ID,
				DepartmentID: f.deptID,
				Date:         f.monday,
				TimeSlot:     slotA,
				Reason:       "race",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appointment.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, f.repo.Len())
}

func TestSlotConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, f.patient, slotB)
	b := f.book(t, f.admin, slotA)
	_, err := f.svc.Transition(ctx, b.ID, f.patient, appointment.StatusCancelled, appointment.TransitionPayload{Reason: "Patient request"})
	require.NoError(t, err)

	free := f.slots(t)
	occupied := []string{a.TimeSlot}

	assert.ElementsMatch(t, []string{slotA, slotB}, append(append([]string{}, free...), occupied...))
	for _, s := range occupied {
		assert.NotContains(t, free, s)
	}
}

func TestHistoryGrowsByOnePerTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, f.patient, slotA)
	require.Equal(t, 1, a.History.Len())

	stored, err := f.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	last, _ := stored.History.Last()
	assert.Equal(t, stored.Status(), last.Status)
	assert.Equal(t, f.patient, last.UpdatedBy)

	f.setNow(time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC))
	updated, err := f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusNoShow, appointment.TransitionPayload{
		Reason: "did not arrive",
		Notes:  "called twice",
	})
	require.NoError(t, err)

	require.Equal(t, 2, updated.History.Len())
	entries := updated.History.Entries()
	assert.Equal(t, appointment.StatusScheduled, entries[0].Status)
	assert.Equal(t, appointment.StatusNoShow, entries[1].Status)
	assert.Equal(t, "did not arrive", entries[1].Reason)
	assert.Equal(t, "called twice", entries[1].Notes)
	assert.Equal(t, f.doctor, entries[1].UpdatedBy)
	assert.Equal(t, appointment.StatusNoShow, updated.Status())

	_, err = f.svc.Transition(ctx, a.ID, f.admin, appointment.StatusCancelled, appointment.TransitionPayload{Reason: "Other"})
	require.ErrorIs(t, err, appointment.ErrForbiddenTransition)

	after, err := f.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.History.Len())
}

func TestRoleGating(t *testing.T) {
	tests := []struct {
		name   string
		actor  func(f *fixture) appointment.Actor
		target appointment.AppointmentStatus
	}{
		{"patient completes", func(f *fixture) appointment.Actor { return f.patient }, appointment.StatusCompleted},
		{"admin completes", func(f *fixture) appointment.Actor { return f.admin }, appointment.StatusCompleted},
		{"patient rejects", func(f *fixture) appointment.Actor { return f.patient }, appointment.StatusRejected},
		{"doctor rejects", func(f *fixture) appointment.Actor { return f.doctor }, appointment.StatusRejected},
		{"patient marks missed", func(f *fixture) appointment.Actor { return f.patient }, appointment.StatusMissed},
		{"doctor reschedules", func(f *fixture) appointment.Actor { return f.doctor }, appointment.StatusRescheduled},
		{"other patient cancels", func(f *fixture) appointment.Actor { return f.other }, appointment.StatusCancelled},
		{"back to scheduled", func(f *fixture) appointment.Actor { return f.admin }, appointment.StatusScheduled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := f.book(t, f.patient, slotA)
			before := len(f.notifier.Sent())

			_, err := f.svc.Transition(ctx, a.ID, tt.actor(f), tt.target, appointment.TransitionPayload{
				Reason:     "Other",
				Completion: &appointment.CompletionInput{Duration: duration(10)},
			})
			require.ErrorIs(t, err, appointment.ErrForbiddenTransition)

			stored, err := f.svc.GetAppointment(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, appointment.StatusScheduled, stored.Status())
			assert.Equal(t, 1, stored.History.Len())
			assert.Len(t, f.notifier.Sent(), before)
		})
	}
}

func TestCompletionRequiresValidPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, slotA)

	yesterday := f.clock().Add(-24 * time.Hour)
	_, err := f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusCompleted, appointment.TransitionPayload{
		Prescription: "rest",
		Completion: &appointment.CompletionInput{
			FollowUpRequired: true,
			FollowUpDate:     &yesterday,
		},
	})
	var verr *appointment.ValidationError
	require.ErrorAs(t, err, &verr)
	var fields []string
	for _, fe := range verr.Fields {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"duration", "followUpDate"}, fields)

	stored, err := f.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, stored.Status())
	assert.Nil(t, stored.Completion)

	nextWeek := f.clock().Add(7 * 24 * time.Hour)
	done, err := f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusCompleted, appointment.TransitionPayload{
		Notes:        "stable",
		Prescription: "rest",
		Completion: &appointment.CompletionInput{
			Duration:             duration(25),
			Diagnosis:            "sprain",
			FollowUpRequired:     true,
			FollowUpDate:         &nextWeek,
			FollowUpInstructions: "x-ray",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "stable", done.Notes)
	assert.Equal(t, "rest", done.Prescription)
	assert.Equal(t, f.clock(), done.Completion.CompletedAt)
	assert.Equal(t, nextWeek, *done.Completion.FollowUpDate)

	events := f.notifier.Events()
	assert.Equal(t, []string{
		appointment.EventAppointmentBooked,
		appointment.EventAppointmentCompleted,
		appointment.EventFollowUpScheduled,
	}, events)

	sent := f.notifier.Sent()
	assert.ElementsMatch(t, []uuid.UUID{f.patient.ID, f.admin.ID}, sent[1].Recipients)
	assert.Equal(t, []uuid.UUID{f.patient.ID}, sent[2].Recipients)
}

func TestCancellingFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, f.patient, slotA)
	assert.NotContains(t, f.slots(t), slotA)

	_, err := f.svc.Transition(ctx, a.ID, f.patient, appointment.StatusCancelled, appointment.TransitionPayload{Reason: "Patient request"})
	require.NoError(t, err)
	assert.Contains(t, f.slots(t), slotA)

	// the slot can be booked again
	f.book(t, f.admin, slotA)

	sent := f.notifier.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, appointment.EventAppointmentCancelled, sent[1].Event)
	assert.Equal(t, []uuid.UUID{f.doctor.ID}, sent[1].Recipients)
}

func TestCompletedIsTerminalForEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, f.patient, slotA)
	_, err := f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusCompleted, appointment.TransitionPayload{
		Completion: &appointment.CompletionInput{Duration: duration(30)},
	})
	require.NoError(t, err)

	for _, actor := range []appointment.Actor{f.patient, f.doctor, f.admin} {
		_, err := f.svc.Transition(ctx, a.ID, actor, appointment.StatusCancelled, appointment.TransitionPayload{Reason: "Other"})
		assert.ErrorIs(t, err, appointment.ErrForbiddenTransition, "role %s", actor.Role)
	}
}

func TestBookingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherDept := uuid.New()
	f.dir.AddDepartment(appointment.Department{ID: otherDept, Name: "Dermatology", Active: true})

	_, err := f.svc.BookAppointment(ctx, f.patient, appointment.BookingRequest{
		PatientID:    f.patient.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: otherDept,
		Date:         f.monday,
		TimeSlot:     "12:00-12:30",
	})
	var verr *appointment.ValidationError
	require.ErrorAs(t, err, &verr)
	var fields []string
	for _, fe := range verr.Fields {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"departmentId", "reason", "timeSlot"}, fields)

	_, err = f.svc.BookAppointment(ctx, f.patient, appointment.BookingRequest{
		PatientID:    f.patient.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.deptID,
		Date:         f.monday.AddDate(0, 0, -7),
		TimeSlot:     slotA,
		Reason:       "late",
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "appointmentDate", verr.Fields[0].Field)

	assert.Zero(t, f.repo.Len())
}

func TestBookingLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := appointment.BookingRequest{
		PatientID:    f.patient.ID,
		DoctorID:     uuid.New(),
		DepartmentID: f.deptID,
		Date:         f.monday,
		TimeSlot:     slotA,
		Reason:       "checkup",
	}
	_, err := f.svc.BookAppointment(ctx, f.patient, req)
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)

	req.DoctorID = f.doctor.ID
	req.DepartmentID = uuid.New()
	_, err = f.svc.BookAppointment(ctx, f.patient, req)
	assert.ErrorIs(t, err, appointment.ErrDepartmentNotFound)

	inactive := uuid.New()
	f.dir.AddPatient(appointment.Patient{ID: inactive, Name: "Gone", Active: false})
	req.DepartmentID = f.deptID
	req.PatientID = inactive
	_, err = f.svc.BookAppointment(ctx, f.admin, req)
	assert.ErrorIs(t, err, appointment.ErrPatientNotFound)
}

func TestBookingOnBehalfOfSomeoneElse(t *testing.T) {
	f := newFixture(t)

	req := appointment.BookingRequest{
		PatientID:    f.patient.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.deptID,
		Date:         f.monday,
		TimeSlot:     slotA,
		Reason:       "checkup",
	}
	for _, actor := range []appointment.Actor{f.other, f.doctor} {
		_, err := f.svc.BookAppointment(context.Background(), actor, req)
		assert.ErrorIs(t, err, appointment.ErrForbiddenTransition)
	}
}

func TestPatientCancelCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, slotA)

	f.setNow(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))

	_, err := f.svc.Transition(ctx, a.ID, f.patient, appointment.StatusCancelled, appointment.TransitionPayload{Reason: "Patient request"})
	require.ErrorIs(t, err, appointment.ErrForbiddenTransition)

	// staff are not bound by the cutoff
	_, err = f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusCancelled, appointment.TransitionPayload{Reason: "Doctor unavailable"})
	require.NoError(t, err)
}

func TestMissedNotBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, slotA)

	_, err := f.svc.Transition(ctx, a.ID, f.admin, appointment.StatusMissed, appointment.TransitionPayload{Reason: "absent"})
	require.ErrorIs(t, err, appointment.ErrValidation)

	f.setNow(time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC))
	missed, err := f.svc.Transition(ctx, a.ID, f.admin, appointment.StatusMissed, appointment.TransitionPayload{
		Reason:     "absent",
		AdminNotes: "second miss this year",
	})
	require.NoError(t, err)
	assert.Equal(t, "second miss this year", missed.AdminNotes)
}

func TestStaleExpectedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, slotA)

	_, err := f.svc.Transition(ctx, a.ID, f.admin, appointment.StatusRejected, appointment.TransitionPayload{Reason: "duplicate"})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusCompleted, appointment.TransitionPayload{
		ExpectedStatus: appointment.StatusScheduled,
		Completion:     &appointment.CompletionInput{Duration: duration(30)},
	})
	var serr *appointment.StaleStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, appointment.StatusRejected, serr.Actual)
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.patient, slotA)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []appointment.Actor{f.doctor, f.admin} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Transition(context.Background(), a.ID, actor, appointment.StatusCancelled,
				appointment.TransitionPayload{Reason: "Emergency"})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, appointment.ErrStaleState) || errors.Is(err, appointment.ErrForbiddenTransition), err)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.svc.GetAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.History.Len())
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.Err = errors.New("stream unavailable")
	f.dir.AdminErr = errors.New("directory down")

	a := f.book(t, f.patient, slotA)
	done, err := f.svc.Transition(context.Background(), a.ID, f.doctor, appointment.StatusCompleted, appointment.TransitionPayload{
		Completion: &appointment.CompletionInput{Duration: duration(30)},
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, done.Status())
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, slotA)

	_, _, err := f.svc.Reschedule(ctx, a.ID, f.doctor, appointment.RescheduleRequest{Date: f.tuesday, TimeSlot: "14:00-14:30"})
	require.ErrorIs(t, err, appointment.ErrForbiddenTransition)

	_, _, err = f.svc.Reschedule(ctx, a.ID, f.admin, appointment.RescheduleRequest{Date: f.tuesday, TimeSlot: slotA})
	require.ErrorIs(t, err, appointment.ErrValidation)

	old, next, err := f.svc.Reschedule(ctx, a.ID, f.admin, appointment.RescheduleRequest{
		Date:     f.tuesday,
		TimeSlot: "14:00-14:30",
		Reason:   "doctor in surgery",
	})
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusRescheduled, old.Status())
	require.NotNil(t, old.RescheduledTo)
	assert.Equal(t, next.ID, *old.RescheduledTo)

	assert.Equal(t, appointment.StatusScheduled, next.Status())
	require.NotNil(t, next.RescheduledFrom)
	assert.Equal(t, a.ID, *next.RescheduledFrom)
	assert.Equal(t, a.PatientID, next.PatientID)
	assert.Equal(t, a.Reason, next.Reason)
	assert.Equal(t, f.tuesday, next.AppointmentDate)

	// rescheduled still occupies its original slot
	assert.Equal(t, []string{slotB}, f.slots(t))

	tuesday, err := f.svc.ResolveAvailableSlots(ctx, f.doctor.ID, f.tuesday)
	require.NoError(t, err)
	assert.Empty(t, tuesday)

	_, err = f.svc.Transition(ctx, old.ID, f.admin, appointment.StatusCancelled, appointment.TransitionPayload{Reason: "Other"})
	assert.ErrorIs(t, err, appointment.ErrForbiddenTransition)
}

func TestRescheduleThroughTransition(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.patient, slotA)

	newDate := f.tuesday
	old, err := f.svc.Transition(context.Background(), a.ID, f.admin, appointment.StatusRescheduled, appointment.TransitionPayload{
		NewDate: &newDate,
		NewSlot: "14:00-14:30",
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusRescheduled, old.Status())
	assert.Equal(t, 2, f.repo.Len())

	sent := f.notifier.Sent()
	last := sent[len(sent)-1]
	assert.Equal(t, appointment.EventAppointmentRescheduled, last.Event)
	assert.ElementsMatch(t, []uuid.UUID{f.patient.ID, f.doctor.ID}, last.Recipients)
}

func TestListAppointmentsPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, f.patient, slotA)
	f.book(t, f.patient, slotB)
	_, err := f.svc.BookAppointment(ctx, f.other, appointment.BookingRequest{
		PatientID:    f.other.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.deptID,
		Date:         f.tuesday,
		TimeSlot:     "14:00-14:30",
		Reason:       "follow-up",
	})
	require.NoError(t, err)

	page, err := f.svc.ListAppointments(ctx, appointment.AppointmentFilter{PatientID: &f.patient.ID}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	page, err = f.svc.ListAppointments(ctx, appointment.AppointmentFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, f.tuesday, page.Items[0].AppointmentDate)

	status := appointment.StatusCancelled
	page, err = f.svc.ListAppointments(ctx, appointment.AppointmentFilter{Status: &status}, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, page.PageSize)
	assert.Empty(t, page.Items)
}

func TestListAppointmentsHugePage(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.patient, slotA)

	page, err := f.svc.ListAppointments(context.Background(), appointment.AppointmentFilter{}, math.MaxInt, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1_000_000, page.Page)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrev)
}

func TestNotifyOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, slotA)

	n, err := f.svc.NotifyOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.setNow(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	n, err = f.svc.NotifyOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent := f.notifier.Sent()
	last := sent[len(sent)-1]
	assert.Equal(t, appointment.EventAppointmentOverdue, last.Event)
	assert.Equal(t, []uuid.UUID{f.admin.ID}, last.Recipients)
	assert.Equal(t, []string{a.ID.String()}, last.Payload["appointment_ids"])
}

func TestNotifyOverdueReportsEachAppointmentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, slotA)
	b, err := f.svc.BookAppointment(ctx, f.other, appointment.BookingRequest{
		PatientID:    f.other.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.deptID,
		Date:         f.tuesday,
		TimeSlot:     "14:00-14:30",
		Reason:       "follow-up",
	})
	require.NoError(t, err)

	overdueEvents := func() []apptest.Notification {
		var out []apptest.Notification
		for _, n := range f.notifier.Sent() {
			if n.Event == appointment.EventAppointmentOverdue {
				out = append(out, n)
			}
		}
		return out
	}

	f.setNow(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		n, err := f.svc.NotifyOverdue(ctx)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, 1, n)
		} else {
			assert.Zero(t, n, "run %d", i)
		}
	}
	require.Len(t, overdueEvents(), 1)
	assert.Equal(t, []string{a.ID.String()}, overdueEvents()[0].Payload["appointment_ids"])

	// the next day the Tuesday visit is overdue too; only it is new
	f.setNow(time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	n, err := f.svc.NotifyOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, overdueEvents(), 2)
	assert.Equal(t, []string{b.ID.String()}, overdueEvents()[1].Payload["appointment_ids"])

	// reporting does not hide them from the overdue listing
	listed, err := f.svc.ListOverdue(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, f.patient, slotA)
	f.book(t, f.patient, slotB)
	_, err := f.svc.Transition(ctx, a.ID, f.doctor, appointment.StatusCompleted, appointment.TransitionPayload{
		Completion: &appointment.CompletionInput{Duration: duration(30)},
	})
	require.NoError(t, err)

	st, err := f.svc.Statistics(ctx, appointment.PeriodMonth)
	require.NoError(t, err)

	assert.Equal(t, 2, st.TotalAppointments)
	assert.Equal(t, 50.0, st.CompletionRate)
	require.Len(t, st.TopDoctors, 1)
	assert.Equal(t, "Dr. Who", st.TopDoctors[0].Name)
	require.Len(t, st.DepartmentStats, 1)
	assert.Equal(t, "Cardiology", st.DepartmentStats[0].Name)
}
