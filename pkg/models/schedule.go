package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// WellKnownSchedule is the calendar unit of a named schedule.
type WellKnownSchedule string

const (
	ScheduleHourly  WellKnownSchedule = "hourly"
	ScheduleDaily   WellKnownSchedule = "daily"
	ScheduleWeekly  WellKnownSchedule = "weekly"
	ScheduleMonthly WellKnownSchedule = "monthly"
	ScheduleYearly  WellKnownSchedule = "yearly"
	ScheduleUnknown WellKnownSchedule = "unknown"
)

// ErrInvalidSchedule is returned when a schedule is neither well known nor a valid cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule")

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// WellKnown maps a schedule expression to its calendar unit. Aliases such as
// "@daily", "daily" and "days" are accepted, case-insensitively.
func WellKnown(expression string) WellKnownSchedule {
	switch strings.ToLower(strings.TrimSpace(expression)) {
	case "@hourly", "hourly", "hours":
		return ScheduleHourly
	case "@daily", "daily", "days":
		return ScheduleDaily
	case "@weekly", "weekly", "weeks":
		return ScheduleWeekly
	case "@monthly", "monthly", "months":
		return ScheduleMonthly
	case "@annually", "annually", "@yearly", "yearly", "years":
		return ScheduleYearly
	default:
		return ScheduleUnknown
	}
}

// NormalizeSchedule rewrites well-known aliases to their cron descriptor ("@daily")
// and returns any other expression untouched.
func NormalizeSchedule(expression string) string {
	if wellKnown := WellKnown(expression); wellKnown != ScheduleUnknown {
		return "@" + string(wellKnown)
	}

	return expression
}

// ValidateSchedule checks that expression is well known or parses as a 5-field cron expression.
func ValidateSchedule(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}

	_, err := scheduleParser.Parse(NormalizeSchedule(expression))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return nil
}

// NextExecution returns the first time strictly after the reference time at which
// the schedule fires.
func NextExecution(expression string, after time.Time) (time.Time, error) {
	schedule, err := scheduleParser.Parse(NormalizeSchedule(expression))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return schedule.Next(after), nil
}

// Parameter formats an execution time as the instance parameter for the schedule:
// "2006-01-02T15" for hourly, "2006-01-02" for daily and weekly, "2006-01" for monthly,
// "2006" for yearly and RFC 3339 minutes for custom cron expressions.
func Parameter(expression string, at time.Time) string {
	at = at.UTC()

	switch WellKnown(expression) {
	case ScheduleHourly:
		return at.Format("2006-01-02T15")
	case ScheduleDaily, ScheduleWeekly:
		return at.Format("2006-01-02")
	case ScheduleMonthly:
		return at.Format("2006-01")
	case ScheduleYearly:
		return at.Format("2006")
	default:
		return at.Format("2006-01-02T15:04")
	}
}
