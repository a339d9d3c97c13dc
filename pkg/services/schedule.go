package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
	"github.com/dukex/cadence/pkg/recurrence"
)

// Schedule manages schedule definitions and their recurrence bookkeeping.
type Schedule struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewSchedule creates a new schedule service.
func NewSchedule(persistence persistence.Persistence, clock clockwork.Clock, logger *slog.Logger) *Schedule {
	return &Schedule{
		persistence: persistence,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("component", "schedule_service"),
	}
}

// CreateScheduleRequest describes a new schedule.
type CreateScheduleRequest struct {
	WorkflowID      string              `json:"workflow_id"      validate:"required"`
	Name            string              `json:"name"             validate:"required,max=255"`
	Description     string              `json:"description"`
	ScheduleType    models.ScheduleType `json:"schedule_type"    validate:"required,oneof=cron interval once manual"`
	CronExpression  *string             `json:"cron_expression"`
	IntervalSeconds *int                `json:"interval_seconds"`
	Timezone        string              `json:"timezone"`
	Inputs          map[string]any      `json:"inputs"`
	StartTime       *time.Time          `json:"start_time"`
	EndTime         *time.Time          `json:"end_time"`
}

// UpdateScheduleRequest is a partial update; nil fields are left unchanged.
type UpdateScheduleRequest struct {
	Name            *string              `json:"name"             validate:"omitempty,min=1,max=255"`
	Description     *string              `json:"description"`
	ScheduleType    *models.ScheduleType `json:"schedule_type"    validate:"omitempty,oneof=cron interval once manual"`
	CronExpression  *string              `json:"cron_expression"`
	IntervalSeconds *int                 `json:"interval_seconds"`
	Timezone        *string              `json:"timezone"`
	Inputs          map[string]any       `json:"inputs"`
	StartTime       *time.Time           `json:"start_time"`
	EndTime         *time.Time           `json:"end_time"`
}

// ListSchedulesRequest contains options for listing schedules.
type ListSchedulesRequest struct {
	WorkflowID string
	Status     *models.ScheduleStatus
	Limit      int `validate:"min=0,max=100"`
	Offset     int `validate:"min=0"`
}

// ListSchedulesResponse contains the result of listing schedules.
type ListSchedulesResponse struct {
	Schedules   []*models.Schedule `json:"schedules"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// CreateSchedule validates req against its workflow and persists an enabled schedule.
func (s *Schedule) CreateSchedule(ctx context.Context, req *CreateScheduleRequest) (*models.Schedule, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, newScheduleDefinitionError("CreateSchedule", describeValidation(err))
	}

	if _, err := s.persistence.Workflows().GetByID(ctx, req.WorkflowID); err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schedule ID: %w", err)
	}

	now := s.now()
	schedule := &models.Schedule{
		ID:              id.String(),
		WorkflowID:      req.WorkflowID,
		Name:            req.Name,
		Description:     req.Description,
		ScheduleType:    req.ScheduleType,
		CronExpression:  req.CronExpression,
		IntervalSeconds: req.IntervalSeconds,
		Timezone:        req.Timezone,
		Inputs:          req.Inputs,
		StartTime:       utc(req.StartTime),
		EndTime:         utc(req.EndTime),
		Status:          models.ScheduleStatusEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	if err := s.plan(schedule, recurrence.FromSchedule(schedule), now); err != nil {
		return nil, err
	}

	if err := s.persistence.Schedules().Save(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	s.logger.InfoContext(ctx, "schedule created",
		"schedule_id", schedule.ID,
		"workflow_id", schedule.WorkflowID,
		"type", schedule.ScheduleType,
		"status", schedule.Status,
		"next_run_at", schedule.NextRunAt,
	)

	return schedule, nil
}

// UpdateSchedule applies patch and recomputes NextRunAt when a recurrence
// field changed. An expired schedule whose new window still has a run left is
// enabled again; a disabled schedule stays disabled.
func (s *Schedule) UpdateSchedule(ctx context.Context, id string, patch *UpdateScheduleRequest) (*models.Schedule, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, newScheduleDefinitionError("UpdateSchedule", describeValidation(err))
	}

	changed := false

	schedule, err := s.mutate(ctx, id, func(schedule *models.Schedule, now time.Time) (bool, error) {
		changed = applyPatch(schedule, patch)

		if err := s.ValidateSchedule(schedule); err != nil {
			return false, err
		}

		schedule.UpdatedAt = now

		if changed && schedule.Status != models.ScheduleStatusDisabled {
			schedule.Status = models.ScheduleStatusEnabled

			if err := s.plan(schedule, recurrence.FromSchedule(schedule), now); err != nil {
				return false, err
			}
		}

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schedule updated",
		"schedule_id", schedule.ID,
		"recurrence_changed", changed,
		"status", schedule.Status,
		"next_run_at", schedule.NextRunAt,
	)

	return schedule, nil
}

// EnableSchedule is a no-op for enabled schedules; otherwise it recomputes
// NextRunAt from now.
func (s *Schedule) EnableSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.mutate(ctx, id, func(schedule *models.Schedule, now time.Time) (bool, error) {
		if schedule.Status == models.ScheduleStatusEnabled {
			return false, nil
		}

		schedule.Status = models.ScheduleStatusEnabled
		schedule.UpdatedAt = now

		if err := s.plan(schedule, recurrence.FromSchedule(schedule), now); err != nil {
			return false, err
		}

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schedule enabled", "schedule_id", id, "status", schedule.Status, "next_run_at", schedule.NextRunAt)

	return schedule, nil
}

// DisableSchedule stops a schedule from firing.
func (s *Schedule) DisableSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.mutate(ctx, id, func(schedule *models.Schedule, now time.Time) (bool, error) {
		schedule.Status = models.ScheduleStatusDisabled
		schedule.NextRunAt = nil
		schedule.UpdatedAt = now

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schedule disabled", "schedule_id", id)

	return schedule, nil
}

// DeleteSchedule soft deletes a schedule. Its runs are kept.
func (s *Schedule) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.persistence.Schedules().SoftDelete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	s.logger.InfoContext(ctx, "schedule deleted", "schedule_id", id)

	return nil
}

// FetchByID retrieves a schedule by its ID.
func (s *Schedule) FetchByID(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.persistence.Schedules().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return schedule, nil
}

// ListSchedules retrieves schedules with filtering and pagination.
func (s *Schedule) ListSchedules(ctx context.Context, req ListSchedulesRequest) (*ListSchedulesResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("ListSchedules", "INVALID_REQUEST", describeValidation(err), ErrInvalidRequest)
	}

	if req.Status != nil {
		switch *req.Status {
		case models.ScheduleStatusEnabled, models.ScheduleStatusDisabled, models.ScheduleStatusExpired:
		default:
			return nil, NewValidationError("ListSchedules", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", *req.Status), ErrInvalidRequest)
		}
	}

	result, err := s.persistence.Schedules().List(ctx, persistence.ListSchedulesOptions{
		WorkflowID: req.WorkflowID,
		Status:     req.Status,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	return &ListSchedulesResponse{
		Schedules:   result.Schedules,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// GetSchedulesToRun returns up to limit due schedules, oldest due first.
func (s *Schedule) GetSchedulesToRun(ctx context.Context, limit int) ([]*models.Schedule, error) {
	schedules, err := s.persistence.Schedules().Due(ctx, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due schedules: %w", err)
	}

	return schedules, nil
}

// UpdateScheduleAfterRun recomputes NextRunAt from now without recording a
// dispatch. The worker falls back to it when a dispatch failed, so the schedule
// does not stay due forever. Only the ID of schedule is used; the stored
// record is reloaded under lock.
func (s *Schedule) UpdateScheduleAfterRun(ctx context.Context, schedule *models.Schedule) (*models.Schedule, error) {
	return s.mutate(ctx, schedule.ID, func(current *models.Schedule, now time.Time) (bool, error) {
		return true, s.advance(current, now)
	})
}

// MarkScheduleDispatched records a dispatch at dispatchedAt and advances the
// schedule, all inside one transaction holding the schedule's lock.
func (s *Schedule) MarkScheduleDispatched(ctx context.Context, id string, dispatchedAt time.Time) (*models.Schedule, error) {
	return s.mutate(ctx, id, func(schedule *models.Schedule, now time.Time) (bool, error) {
		lastRunAt := dispatchedAt.UTC()
		schedule.LastRunAt = &lastRunAt

		return true, s.advance(schedule, now)
	})
}

// mutate applies fn to the locked schedule and saves it when fn reports a
// change. Every read-modify-write of a schedule goes through here.
func (s *Schedule) mutate(ctx context.Context, id string, fn func(schedule *models.Schedule, now time.Time) (bool, error)) (*models.Schedule, error) {
	var updated *models.Schedule

	err := s.persistence.WithTransaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		schedule, err := tx.Schedules().LockByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to lock schedule: %w", err)
		}

		changed, err := fn(schedule, s.now())
		if err != nil {
			return err
		}

		if changed {
			if err := tx.Schedules().Save(ctx, schedule); err != nil {
				return fmt.Errorf("failed to save schedule: %w", err)
			}
		}

		updated = schedule

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ExpireSchedules moves enabled schedules past their end time to expired.
func (s *Schedule) ExpireSchedules(ctx context.Context) (int64, error) {
	count, err := s.persistence.Schedules().ExpireEnded(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire schedules: %w", err)
	}

	if count > 0 {
		s.logger.InfoContext(ctx, "expired schedules", "count", count)
	}

	return count, nil
}

// ValidateSchedule checks the recurrence definition of schedule.
func (s *Schedule) ValidateSchedule(schedule *models.Schedule) error {
	const op = "ValidateSchedule"

	if err := s.validate.Struct(schedule); err != nil {
		return newScheduleDefinitionError(op, describeValidation(err))
	}

	switch schedule.ScheduleType {
	case models.ScheduleTypeCron:
		if schedule.CronExpression == nil || strings.TrimSpace(*schedule.CronExpression) == "" {
			return newScheduleDefinitionError(op, "cron_expression is required for cron schedules")
		}

		if _, err := recurrence.ParseCron(*schedule.CronExpression); err != nil {
			return newScheduleDefinitionError(op, err.Error())
		}

		if _, err := recurrence.LoadLocation(schedule.Timezone); err != nil {
			return newScheduleDefinitionError(op, err.Error())
		}
	case models.ScheduleTypeInterval:
		if schedule.IntervalSeconds == nil || *schedule.IntervalSeconds <= 0 {
			return newScheduleDefinitionError(op, "interval_seconds must be a positive integer for interval schedules")
		}
	case models.ScheduleTypeOnce:
		if schedule.StartTime == nil {
			return newScheduleDefinitionError(op, "start_time is required for once schedules")
		}
	case models.ScheduleTypeManual:
	default:
		return newScheduleDefinitionError(op, fmt.Sprintf("unsupported schedule type %q", schedule.ScheduleType))
	}

	if schedule.StartTime != nil && schedule.EndTime != nil && !schedule.EndTime.After(*schedule.StartTime) {
		return newScheduleDefinitionError(op, "end_time must be after start_time")
	}

	return nil
}

// advance moves a schedule past a dispatch. A once schedule is exhausted and an
// interval schedule is measured from now instead of its start time.
func (s *Schedule) advance(schedule *models.Schedule, now time.Time) error {
	schedule.UpdatedAt = now

	if schedule.Status != models.ScheduleStatusEnabled {
		return nil
	}

	switch schedule.ScheduleType {
	case models.ScheduleTypeOnce:
		schedule.Status = models.ScheduleStatusExpired
		schedule.NextRunAt = nil

		return nil
	case models.ScheduleTypeInterval:
		def := recurrence.FromSchedule(schedule)
		def.StartTime = nil

		return s.plan(schedule, def, now)
	default:
		return s.plan(schedule, recurrence.FromSchedule(schedule), now)
	}
}

// plan sets NextRunAt from def, expiring the schedule when the next
// occurrence falls outside its window.
func (s *Schedule) plan(schedule *models.Schedule, def recurrence.Definition, now time.Time) error {
	next, err := recurrence.NextRunTime(now, def)
	if err != nil {
		return newScheduleDefinitionError("NextRunTime", err.Error())
	}

	if schedule.HasEnded(now) || (next != nil && schedule.EndTime != nil && next.After(*schedule.EndTime)) {
		schedule.Status = models.ScheduleStatusExpired
		schedule.NextRunAt = nil

		return nil
	}

	schedule.NextRunAt = next

	return nil
}

func (s *Schedule) now() time.Time {
	return s.clock.Now().UTC()
}

func applyPatch(schedule *models.Schedule, patch *UpdateScheduleRequest) bool {
	changed := false

	if patch.Name != nil {
		schedule.Name = *patch.Name
	}

	if patch.Description != nil {
		schedule.Description = *patch.Description
	}

	if patch.Inputs != nil {
		schedule.Inputs = patch.Inputs
	}

	if patch.ScheduleType != nil && *patch.ScheduleType != schedule.ScheduleType {
		schedule.ScheduleType = *patch.ScheduleType
		changed = true
	}

	if patch.CronExpression != nil && !equalPtr(schedule.CronExpression, patch.CronExpression) {
		schedule.CronExpression = patch.CronExpression
		changed = true
	}

	if patch.IntervalSeconds != nil && !equalPtr(schedule.IntervalSeconds, patch.IntervalSeconds) {
		schedule.IntervalSeconds = patch.IntervalSeconds
		changed = true
	}

	if patch.Timezone != nil && *patch.Timezone != schedule.Timezone {
		schedule.Timezone = *patch.Timezone
		changed = true
	}

	if patch.StartTime != nil && (schedule.StartTime == nil || !patch.StartTime.Equal(*schedule.StartTime)) {
		schedule.StartTime = utc(patch.StartTime)
		changed = true
	}

	if patch.EndTime != nil && (schedule.EndTime == nil || !patch.EndTime.Equal(*schedule.EndTime)) {
		schedule.EndTime = utc(patch.EndTime)
		changed = true
	}

	return changed
}

func equalPtr[T comparable](current, next *T) bool {
	return current != nil && next != nil && *current == *next
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()

	return &u
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on '%s'", strings.ToLower(fieldErr.Field()), fieldErr.Tag()))
	}

	return strings.Join(messages, "; ")
}
