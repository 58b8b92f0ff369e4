package appointment

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Window returns the appointment-date range covered by p as of now, in the
// AppointmentDate representation. A zero to means open ended.
func (p Period) Window(now time.Time, loc *time.Location) (from, to time.Time) {
	today := DateOnly(now, loc)
	switch p {
	case PeriodDay:
		return today, today
	case PeriodWeek:
		return today.AddDate(0, 0, -int(today.Weekday())), time.Time{}
	case PeriodYear:
		return time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), time.Time{}
	default:
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), time.Time{}
	}
}

type StatusCount struct {
	Status AppointmentStatus `json:"status"`
	Count  int               `json:"count"`
}

type DepartmentCount struct {
	DepartmentID uuid.UUID `json:"department_id"`
	Name         string    `json:"department_name,omitempty"`
	Count        int       `json:"count"`
}

type DoctorStats struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Name      string    `json:"doctor_name,omitempty"`
	Total     int       `json:"total_appointments"`
	Completed int       `json:"completed"`
	Missed    int       `json:"missed"`
}

type Statistics struct {
	Period            Period            `json:"period"`
	TotalAppointments int               `json:"total_appointments"`
	CompletionRate    float64           `json:"completion_rate"`
	NoShowRate        float64           `json:"no_show_rate"`
	StatusBreakdown   []StatusCount     `json:"status_breakdown"`
	DepartmentStats   []DepartmentCount `json:"department_stats"`
	TopDoctors        []DoctorStats     `json:"top_doctors"`
}

const topDoctorsLimit = 10

func computeStatistics(period Period, rows []Summary) *Statistics {
	st := &Statistics{
		Period:            period,
		TotalAppointments: len(rows),
		StatusBreakdown:   []StatusCount{},
		DepartmentStats:   []DepartmentCount{},
		TopDoctors:        []DoctorStats{},
	}

	byStatus := map[AppointmentStatus]int{}
	byDept := map[uuid.UUID]int{}
	byDoctor := map[uuid.UUID]*DoctorStats{}

	for _, r := range rows {
		byStatus[r.Status]++
		byDept[r.DepartmentID]++

		d, ok := byDoctor[r.DoctorID]
		if !ok {
			d = &DoctorStats{DoctorID: r.DoctorID}
			byDoctor[r.DoctorID] = d
		}
		d.Total++
		switch r.Status {
		case StatusCompleted:
			d.Completed++
		case StatusMissed:
			d.Missed++
		}
	}

	for _, s := range allStatuses {
		if n := byStatus[s]; n > 0 {
			st.StatusBreakdown = append(st.StatusBreakdown, StatusCount{Status: s, Count: n})
		}
	}

	for id, n := range byDept {
		st.DepartmentStats = append(st.DepartmentStats, DepartmentCount{DepartmentID: id, Count: n})
	}
	sort.Slice(st.DepartmentStats, func(i, j int) bool {
		a, b := st.DepartmentStats[i], st.DepartmentStats[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.DepartmentID.String() < b.DepartmentID.String()
	})

	for _, d := range byDoctor {
		st.TopDoctors = append(st.TopDoctors, *d)
	}
	sort.Slice(st.TopDoctors, func(i, j int) bool {
		a, b := st.TopDoctors[i], st.TopDoctors[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.DoctorID.String() < b.DoctorID.String()
	})
	if len(st.TopDoctors) > topDoctorsLimit {
		st.TopDoctors = st.TopDoctors[:topDoctorsLimit]
	}

	st.CompletionRate = percent(byStatus[StatusCompleted], len(rows))
	st.NoShowRate = percent(byStatus[StatusMissed]+byStatus[StatusNoShow], len(rows))
	return st
}

// percent rounds to one decimal place.
func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
