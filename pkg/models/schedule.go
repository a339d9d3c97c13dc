package models

import (
	"maps"
	"time"
)

// ScheduleType selects the recurrence semantics of a schedule.
type ScheduleType string

const (
	ScheduleTypeCron     ScheduleType = "cron"     // Calendar based, driven by a cron expression
	ScheduleTypeInterval ScheduleType = "interval" // Fixed delta in seconds
	ScheduleTypeOnce     ScheduleType = "once"     // Single fire at start time (or immediately)
	ScheduleTypeManual   ScheduleType = "manual"   // Never fires on its own
)

// ScheduleStatus represents the lifecycle state of a schedule.
type ScheduleStatus string

const (
	ScheduleStatusEnabled  ScheduleStatus = "enabled"
	ScheduleStatusDisabled ScheduleStatus = "disabled"
	ScheduleStatusExpired  ScheduleStatus = "expired"
)

// Schedule is a persisted recurrence definition that creates runs of a workflow.
//
// A nil NextRunAt means the schedule never fires again. Schedules are soft
// deleted so their history stays auditable.
type Schedule struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"                validate:"required"`
	Name            string         `json:"name"                       validate:"required"`
	Description     string         `json:"description,omitempty"`
	ScheduleType    ScheduleType   `json:"schedule_type"              validate:"required,oneof=cron interval once manual"`
	CronExpression  *string        `json:"cron_expression,omitempty"`
	IntervalSeconds *int           `json:"interval_seconds,omitempty"`
	Timezone        string         `json:"timezone,omitempty"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	StartTime       *time.Time     `json:"start_time,omitempty"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	Status          ScheduleStatus `json:"status"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
}

// IsDue reports whether the schedule should be dispatched at now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Status == ScheduleStatusEnabled &&
		s.DeletedAt == nil &&
		s.NextRunAt != nil &&
		!s.NextRunAt.After(now)
}

// HasEnded reports whether the validity window closed at or before now.
func (s *Schedule) HasEnded(now time.Time) bool {
	return s.EndTime != nil && !s.EndTime.After(now)
}

// Clone returns a deep-enough copy of s for storage boundaries.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}

	c := *s
	c.Inputs = maps.Clone(s.Inputs)
	c.StartTime = cloneTime(s.StartTime)
	c.EndTime = cloneTime(s.EndTime)
	c.NextRunAt = cloneTime(s.NextRunAt)
	c.LastRunAt = cloneTime(s.LastRunAt)
	c.DeletedAt = cloneTime(s.DeletedAt)

	if s.CronExpression != nil {
		expr := *s.CronExpression
		c.CronExpression = &expr
	}

	if s.IntervalSeconds != nil {
		seconds := *s.IntervalSeconds
		c.IntervalSeconds = &seconds
	}

	return &c
}
