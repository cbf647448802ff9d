// Package schedule holds the pure timing rules that decide when a reminder
// for a clinical event should fire and how its due time is phrased.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime is returned for clock strings not in "H:MM AM/PM" form.
var ErrInvalidTime = errors.New("invalid clock time")

// Severity of a reminder as implied by how close the event is.
const (
	SeverityNormal = "normal"
	SeverityUrgent = "urgent"
)

// urgentWithin is the hours-until boundary at or below which phrasing
// switches from relative-day to relative-hour and severity becomes urgent.
const urgentWithin = time.Hour

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*([AaPp][Mm])$`)

// ParseClockTime parses a 12-hour clock string such as "08:00 AM" into a
// 24-hour hour and minute. "12:xx AM" maps to hour 0 and "12:xx PM" stays 12.
func ParseClockTime(s string) (hour, minute int, err error) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	pm := strings.EqualFold(m[3], "PM")
	switch {
	case hour == 12 && !pm:
		hour = 0
	case hour != 12 && pm:
		hour += 12
	}
	return hour, minute, nil
}

// FormatClockTime renders a 24-hour hour/minute pair as "H:MM AM/PM".
func FormatClockTime(hour, minute int) string {
	return time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format("3:04 PM")
}

// Occurrence returns hour:minute on the calendar day of day, in day's location.
func Occurrence(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// InWindow reports whether now falls in the half-open interval [start, start+width).
func InWindow(now, start time.Time, width time.Duration) bool {
	return !now.Before(start) && now.Before(start.Add(width))
}

// AppointmentDue reports whether an appointment at appt is still ahead of now
// and no further away than lookahead.
func AppointmentDue(now, appt time.Time, lookahead time.Duration) bool {
	return appt.After(now) && !appt.After(now.Add(lookahead))
}

// TimeUntil phrases the distance from now to at for a patient-facing message:
// "in less than an hour", "today at 3:00 PM", "tomorrow at 9:00 AM" or
// "on Mon, Jan 2 at 9:00 AM". Calendar days are taken in at's location.
func TimeUntil(now, at time.Time) string {
	if at.Sub(now) <= urgentWithin {
		return "in less than an hour"
	}
	clock := at.Format("3:04 PM")
	localNow := now.In(at.Location())
	switch DayKey(at) {
	case DayKey(localNow):
		return "today at " + clock
	case DayKey(localNow.AddDate(0, 0, 1)):
		return "tomorrow at " + clock
	}
	return "on " + at.Format("Mon, Jan 2") + " at " + clock
}

// SeverityFor returns SeverityUrgent when at is an hour or less away.
func SeverityFor(now, at time.Time) string {
	if at.Sub(now) <= urgentWithin {
		return SeverityUrgent
	}
	return SeverityNormal
}

// DayKey returns the calendar date of t in its own location.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
