// Package recurrence computes when a schedule should fire next.
//
// Everything here is a pure function of the definition and the reference time,
// so schedule creation and the worker's post-dispatch recomputation agree.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/cadence/pkg/models"
)

var (
	// ErrInvalidExpression is returned when a cron expression cannot be parsed.
	ErrInvalidExpression = errors.New("invalid cron expression")

	// ErrInvalidInterval is returned when an interval is missing or not positive.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidTimezone is returned when a timezone name cannot be loaded.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrUnsupportedType is returned for unknown schedule types.
	ErrUnsupportedType = errors.New("unsupported schedule type")
)

// parser accepts standard five-field expressions, an optional leading seconds
// field and descriptors such as @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Definition is the recurrence-affecting subset of a schedule.
type Definition struct {
	Type            models.ScheduleType
	CronExpression  string
	IntervalSeconds int
	StartTime       *time.Time
	Timezone        string
}

// FromSchedule extracts the recurrence definition of s.
func FromSchedule(s *models.Schedule) Definition {
	def := Definition{
		Type:      s.ScheduleType,
		StartTime: s.StartTime,
		Timezone:  s.Timezone,
	}

	if s.CronExpression != nil {
		def.CronExpression = *s.CronExpression
	}

	if s.IntervalSeconds != nil {
		def.IntervalSeconds = *s.IntervalSeconds
	}

	return def
}

// NextRunTime returns the next time def fires relative to now, or nil when it
// never fires on its own.
func NextRunTime(now time.Time, def Definition) (*time.Time, error) {
	switch def.Type {
	case models.ScheduleTypeOnce:
		next := now
		if def.StartTime != nil && def.StartTime.After(now) {
			next = *def.StartTime
		}

		return &next, nil

	case models.ScheduleTypeCron:
		schedule, err := ParseCron(def.CronExpression)
		if err != nil {
			return nil, err
		}

		loc, err := LoadLocation(def.Timezone)
		if err != nil {
			return nil, err
		}

		// A schedule whose window opens later starts counting from the window.
		ref := now
		if def.StartTime != nil && def.StartTime.After(now) {
			ref = *def.StartTime
		}

		next := schedule.Next(ref.In(loc)).UTC()

		return &next, nil

	case models.ScheduleTypeInterval:
		if def.IntervalSeconds <= 0 {
			return nil, fmt.Errorf("%w: interval_seconds must be positive, got %d", ErrInvalidInterval, def.IntervalSeconds)
		}

		base := now
		if def.StartTime != nil {
			base = *def.StartTime
		}

		next := base.Add(time.Duration(def.IntervalSeconds) * time.Second)

		return &next, nil

	case models.ScheduleTypeManual:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, def.Type)
	}
}

// ParseCron parses a five or six field cron expression.
func ParseCron(expression string) (cron.Schedule, error) {
	if expression == "" {
		return nil, fmt.Errorf("%w: expression is empty", ErrInvalidExpression)
	}

	schedule, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
	}

	return schedule, nil
}

// LoadLocation resolves an IANA timezone name, defaulting to UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTimezone, err)
	}

	return loc, nil
}
