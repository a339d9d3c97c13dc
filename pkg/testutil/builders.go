// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/cadence/pkg/models"
)

// BaseTime is the creation time of every built entity unless overridden.
var BaseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// At returns a pointer to BaseTime shifted by offset.
func At(offset time.Duration) *time.Time {
	t := BaseTime.Add(offset)

	return &t
}

// CreateTestSchedule creates an enabled interval schedule with default values that can be overridden.
func CreateTestSchedule(overrides ...func(*models.Schedule)) *models.Schedule {
	interval := 60
	schedule := &models.Schedule{
		ID:              uuid.New().String(),
		WorkflowID:      "wf-1",
		Name:            "Test Schedule",
		ScheduleType:    models.ScheduleTypeInterval,
		IntervalSeconds: &interval,
		Timezone:        "UTC",
		Status:          models.ScheduleStatusEnabled,
		CreatedAt:       BaseTime,
		UpdatedAt:       BaseTime,
	}

	for _, override := range overrides {
		override(schedule)
	}

	return schedule
}

// WithScheduleID sets the schedule ID and name.
func WithScheduleID(id string) func(*models.Schedule) {
	return func(s *models.Schedule) {
		s.ID = id
		s.Name = id
	}
}

// WithScheduleWorkflow sets the workflow the schedule fires.
func WithScheduleWorkflow(workflowID string) func(*models.Schedule) {
	return func(s *models.Schedule) {
		s.WorkflowID = workflowID
	}
}

// WithStatus sets the schedule status.
func WithStatus(status models.ScheduleStatus) func(*models.Schedule) {
	return func(s *models.Schedule) {
		s.Status = status
	}
}

// WithNextRunAt sets the next fire time. nil makes the schedule dormant.
func WithNextRunAt(next *time.Time) func(*models.Schedule) {
	return func(s *models.Schedule) {
		s.NextRunAt = next
	}
}

// WithEndTime closes the validity window at end.
func WithEndTime(end *time.Time) func(*models.Schedule) {
	return func(s *models.Schedule) {
		s.EndTime = end
	}
}

// WithCron turns the schedule into a cron schedule.
func WithCron(expression, timezone string) func(*models.Schedule) {
	return func(s *models.Schedule) {
		s.ScheduleType = models.ScheduleTypeCron
		s.CronExpression = &expression
		s.IntervalSeconds = nil
		s.Timezone = timezone
	}
}

// WithManual turns the schedule into a manual schedule.
func WithManual() func(*models.Schedule) {
	return func(s *models.Schedule) {
		s.ScheduleType = models.ScheduleTypeManual
		s.IntervalSeconds = nil
	}
}

// CreateTestRun creates a pending run with default values that can be overridden.
func CreateTestRun(overrides ...func(*models.Run)) *models.Run {
	run := &models.Run{
		ID:            uuid.New().String(),
		WorkflowID:    "wf-1",
		Status:        models.RunStatusPending,
		GraphSnapshot: map[string]any{"nodes": []any{}},
		Inputs:        map[string]any{},
		NodeStates:    map[string]any{},
		CreatedAt:     BaseTime,
		UpdatedAt:     BaseTime,
	}

	for _, override := range overrides {
		override(run)
	}

	return run
}

// WithRunID sets the run ID.
func WithRunID(id string) func(*models.Run) {
	return func(r *models.Run) {
		r.ID = id
	}
}

// WithRunWorkflow sets the workflow the run belongs to.
func WithRunWorkflow(workflowID string) func(*models.Run) {
	return func(r *models.Run) {
		r.WorkflowID = workflowID
	}
}

// WithRunStatus sets the run status.
func WithRunStatus(status models.RunStatus) func(*models.Run) {
	return func(r *models.Run) {
		r.Status = status
	}
}

// WithCreatedAt sets the run creation time.
func WithCreatedAt(createdAt time.Time) func(*models.Run) {
	return func(r *models.Run) {
		r.CreatedAt = createdAt
		r.UpdatedAt = createdAt
	}
}

// CreateTestWorkflow creates a test workflow with a single node graph.
func CreateTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:            uuid.New().String(),
		Name:          "Test Workflow",
		Description:   "A workflow for testing",
		DefaultInputs: map[string]any{"env": "test"},
		GraphDefinition: map[string]any{
			"nodes": []any{map[string]any{"id": "log-1", "type": "log"}},
		},
		CreatedAt: BaseTime,
		UpdatedAt: BaseTime,
	}
}
