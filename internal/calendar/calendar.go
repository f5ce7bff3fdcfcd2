// Package calendar parses the date and time strings the agenda is keyed on.
// Dates are civil dates (YYYY-MM-DD) and times are zero-padded HH:MM, so both
// sort correctly as plain strings.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/consultorio/agenda/internal/apperr"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	// SlotGranularity is the minute step slots are allowed on.
	SlotGranularity = 15
)

var (
	ErrMissingDate = apperr.Validation("missing_date", "date is required")
	ErrInvalidDate = apperr.Validation("invalid_date", "date must be YYYY-MM-DD")
	ErrMissingTime = apperr.Validation("missing_time", "time is required")
	ErrInvalidTime = apperr.Validation("invalid_time", "time must be HH:MM")
	ErrGranularity = apperr.Validation("invalid_time_granularity", "time must fall on a 15 minute boundary")
	ErrPastDate    = apperr.Validation("past_date", "date is in the past")
)

// ParseDate validates s and returns it in canonical form.
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrMissingDate
	}
	// Accept full timestamps from clients that send ISO strings.
	if len(s) > len(DateLayout) && s[len(DateLayout)] == 'T' {
		s = s[:len(DateLayout)]
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", ErrInvalidDate.Withf("invalid date %q", s)
	}
	return d.Format(DateLayout), nil
}

// ParseTime validates s and returns it zero padded ("9:00" becomes "09:00").
func ParseTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrMissingTime
	}
	if len(s) > 5 && s[5] == ':' {
		// HH:MM:SS from database-shaped payloads
		s = s[:5]
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		t, err = time.Parse("3:04", s)
		if err != nil {
			return "", ErrInvalidTime.Withf("invalid time %q", s)
		}
	}
	return t.Format(TimeLayout), nil
}

// ParseSlotTime is ParseTime plus the slot granularity check.
func ParseSlotTime(s string) (string, error) {
	hm, err := ParseTime(s)
	if err != nil {
		return "", err
	}
	t, _ := time.Parse(TimeLayout, hm)
	if t.Minute()%SlotGranularity != 0 {
		return "", ErrGranularity.Withf("time %s is not on a %d minute boundary", hm, SlotGranularity)
	}
	return hm, nil
}

// Clock yields the server's notion of "now" in the clinic's time zone.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc *time.Location
}

// SystemClock returns a Clock reading the wall clock in loc (UTC when nil).
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// FixedClock always returns t. Used by tests and the seed command.
type FixedClock time.Time

func (c FixedClock) Now() time.Time {
	return time.Time(c)
}

// Today returns the clock's current civil date.
func Today(c Clock) string {
	return c.Now().Format(DateLayout)
}

// IsPast reports whether date (canonical form) is strictly before today.
func IsPast(c Clock, date string) bool {
	return date < Today(c)
}

// Steps lists every time from "from" up to but excluding "to" in step minutes.
func Steps(from, to string, step int) ([]string, error) {
	if step <= 0 || step%SlotGranularity != 0 {
		return nil, ErrGranularity.Withf("step must be a positive multiple of %d minutes", SlotGranularity)
	}
	start, err := ParseSlotTime(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseTime(to)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, apperr.Validation("invalid_range", fmt.Sprintf("end %s must be after start %s", end, start))
	}

	s, _ := time.Parse(TimeLayout, start)
	e, _ := time.Parse(TimeLayout, end)
	var out []string
	for t := s; t.Before(e); t = t.Add(time.Duration(step) * time.Minute) {
		out = append(out, t.Format(TimeLayout))
	}
	return out, nil
}
