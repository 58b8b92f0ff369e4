package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AvailabilityTemplate is a doctor's weekly set of bookable slots. Slot
// order within a day is display order.
type AvailabilityTemplate struct {
	DoctorID    uuid.UUID
	WeeklySlots map[time.Weekday][]string
}

// SlotsFor returns the template slots for the weekday of date.
func (t *AvailabilityTemplate) SlotsFor(date time.Time) []string {
	if t == nil {
		return nil
	}
	return t.WeeklySlots[date.Weekday()]
}

func (t *AvailabilityTemplate) Offers(date time.Time, slot string) bool {
	for _, s := range t.SlotsFor(date) {
		if s == slot {
			return true
		}
	}
	return false
}

// Validate checks slot format and per-day uniqueness.
func (t *AvailabilityTemplate) Validate() error {
	for day, slots := range t.WeeklySlots {
		seen := make(map[string]struct{}, len(slots))
		for _, s := range slots {
			if _, _, err := ParseSlot(s); err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
			if _, dup := seen[s]; dup {
				return fmt.Errorf("%s: duplicate slot %q", day, s)
			}
			seen[s] = struct{}{}
		}
	}
	return nil
}

// ParseSlot splits "HH:MM-HH:MM" into offsets from midnight.
func ParseSlot(slot string) (start, end time.Duration, err error) {
	parts := strings.Split(slot, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid slot %q: want HH:MM-HH:MM", slot)
	}
	s, err := time.Parse("15:04", strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid slot start in %q", slot)
	}
	e, err := time.Parse("15:04", strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid slot end in %q", slot)
	}
	start = time.Duration(s.Hour())*time.Hour + time.Duration(s.Minute())*time.Minute
	end = time.Duration(e.Hour())*time.Hour + time.Duration(e.Minute())*time.Minute
	if end <= start {
		return 0, 0, fmt.Errorf("invalid slot %q: end must be after start", slot)
	}
	return start, end, nil
}

// SlotStart is the instant a slot begins on the given calendar date in loc.
func SlotStart(date time.Time, slot string, loc *time.Location) (time.Time, error) {
	start, _, err := ParseSlot(slot)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	// wall clock, not midnight plus elapsed time: DST days are 23 or 25 hours long
	y, m, d := date.Date()
	return time.Date(y, m, d, int(start/time.Hour), int(start%time.Hour/time.Minute), 0, 0, loc), nil
}

// DivideSlots cuts [from, to) into consecutive windows of the given length,
// e.g. DivideSlots("09:00", "10:00", 30*time.Minute) -> 09:00-09:30, 09:30-10:00.
func DivideSlots(from, to string, interval time.Duration) ([]string, error) {
	start, err := time.Parse("15:04", from)
	if err != nil {
		return nil, fmt.Errorf("invalid start %q", from)
	}
	end, err := time.Parse("15:04", to)
	if err != nil {
		return nil, fmt.Errorf("invalid end %q", to)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	var slots []string
	for t := start; t.Add(interval).Compare(end) <= 0; t = t.Add(interval) {
		slots = append(slots, fmt.Sprintf("%s-%s", t.Format("15:04"), t.Add(interval).Format("15:04")))
	}
	return slots, nil
}
