package booking

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Window is an occupied time range belonging to one of a patient's
// active appointments.
type Window struct {
	AppointmentID uuid.UUID
	Start         time.Time
	End           time.Time
}

// overlaps tests half-open interval intersection: [aStart,aEnd) and
// [bStart,bEnd) collide iff aStart < bEnd && aEnd > bStart. Touching
// endpoints (09:00-09:30 and 09:30-10:00) do not overlap.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// FindSlotConflict scans a patient's active windows for one that
// intersects the candidate range and returns it, or nil. Pure; the
// caller is responsible for fetching the windows inside the same
// transaction as the subsequent write.
func FindSlotConflict(active []Window, start, end time.Time) *Window {
	for i := range active {
		if overlaps(active[i].Start, active[i].End, start, end) {
			return &active[i]
		}
	}
	return nil
}

var clockTimePattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// ValidClockTime reports whether s is a 24-hour HH:mm time.
func ValidClockTime(s string) bool {
	return clockTimePattern.MatchString(s)
}

const visitDateLayout = "2006-01-02"

// ParseVisitDate parses a YYYY-MM-DD visit date.
func ParseVisitDate(s string) (time.Time, error) {
	return time.Parse(visitDateLayout, s)
}
