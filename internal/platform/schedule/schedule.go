// Package schedule computes task run times for the scheduler.
//
// A Spec mirrors one schedule_settings row: daily tasks run at HH:MM in the
// task timezone on the allowed weekdays, hourly tasks run every hour at :MM.
// Next-run times are always returned in UTC.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	// Embed tzdata for environments without zoneinfo.
	_ "time/tzdata"
)

// Schedule types.
const (
	TypeDaily  = "daily"
	TypeHourly = "hourly"
)

// DefaultTimezone is used when a task has no timezone configured.
const DefaultTimezone = "Europe/Belgrade"

const (
	maxHour       = 23
	maxMinute     = 59
	minISOWeekday = 1
	maxISOWeekday = 7
	daysPerWeek   = 7
	hoursPerWeek  = 7 * 24

	errFmtInvalidTimezone = "invalid timezone: %w"
)

// Static errors for schedule validation.
var (
	ErrUnknownType    = errors.New("unknown schedule type")
	ErrInvalidHour    = errors.New("hour out of range")
	ErrInvalidMinute  = errors.New("minute out of range")
	ErrInvalidWeekday = errors.New("weekday out of range")
	ErrNoAllowedDay   = errors.New("no allowed weekday")
)

var timezoneAliases = map[string]string{
	"Asia/Nicosia": "Europe/Nicosia",
}

// Spec defines when a scheduled task runs.
type Spec struct {
	Type     string `json:"schedule_type"`
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Weekdays []int  `json:"weekdays,omitempty"` // ISO weekdays 1=Mon..7=Sun; empty = every day
	Timezone string `json:"timezone"`
}

// Validate checks spec fields for correctness.
func (s Spec) Validate() error {
	if s.Type != TypeDaily && s.Type != TypeHourly {
		return fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}

	if s.Hour < 0 || s.Hour > maxHour {
		return fmt.Errorf("%w: %d", ErrInvalidHour, s.Hour)
	}

	if s.Minute < 0 || s.Minute > maxMinute {
		return fmt.Errorf("%w: %d", ErrInvalidMinute, s.Minute)
	}

	for _, d := range s.Weekdays {
		if d < minISOWeekday || d > maxISOWeekday {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
	}

	if _, err := s.Location(); err != nil {
		return err
	}

	return nil
}

// Location resolves the spec timezone, defaulting when unset.
func (s Spec) Location() (*time.Location, error) {
	tz := NormalizeTimezone(s.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf(errFmtInvalidTimezone, err)
	}

	return loc, nil
}

// NormalizeTimezone maps known aliases to canonical IANA names.
func NormalizeTimezone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if canonical, ok := timezoneAliases[value]; ok {
		return canonical
	}

	return value
}

// NextRun returns the first run time strictly after the given moment, in UTC.
func (s Spec) NextRun(after time.Time) (time.Time, error) {
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}

	local := after.In(loc)

	switch s.Type {
	case TypeDaily:
		return s.nextDaily(local, loc)
	case TypeHourly:
		return s.nextHourly(local, loc)
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
}

func (s Spec) nextDaily(local time.Time, loc *time.Location) (time.Time, error) {
	candidate := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	for i := 0; i < daysPerWeek; i++ {
		if s.dayAllowed(candidate.Weekday()) {
			return candidate.UTC(), nil
		}

		candidate = candidate.AddDate(0, 0, 1)
	}

	return time.Time{}, ErrNoAllowedDay
}

func (s Spec) nextHourly(local time.Time, loc *time.Location) (time.Time, error) {
	candidate := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), s.Minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.Add(time.Hour)
	}

	for i := 0; i < hoursPerWeek; i++ {
		if s.dayAllowed(candidate.Weekday()) {
			return candidate.UTC(), nil
		}

		candidate = candidate.Add(time.Hour)
	}

	return time.Time{}, ErrNoAllowedDay
}

func (s Spec) dayAllowed(day time.Weekday) bool {
	if len(s.Weekdays) == 0 {
		return true
	}

	iso := ISOWeekday(day)
	for _, d := range s.Weekdays {
		if d == iso {
			return true
		}
	}

	return false
}

// ISOWeekday converts a Go weekday to ISO-8601 numbering (Mon=1..Sun=7).
func ISOWeekday(day time.Weekday) int {
	if day == time.Sunday {
		return maxISOWeekday
	}

	return int(day)
}

// SortedWeekdays returns a deduplicated ascending copy of the weekday set.
func SortedWeekdays(days []int) []int {
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))

	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}

		seen[d] = struct{}{}
		out = append(out, d)
	}

	sort.Ints(out)

	return out
}
