package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

const scheduleColumns = `
	id
  , workflow_id
  , name
  , description
  , schedule_type
  , cron_expression
  , interval_seconds
  , timezone
  , inputs
  , start_time
  , end_time
  , status
  , next_run_at
  , last_run_at
  , created_at
  , updated_at
  , deleted_at
`

// ScheduleRepository handles schedule-related database operations.
type ScheduleRepository struct {
	db     querier
	logger *slog.Logger
}

type scanner interface {
	Scan(dest ...any) error
}

// Save inserts or updates a schedule.
func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	inputsJSON, err := marshalJSON(schedule.Inputs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			schedule_type = EXCLUDED.schedule_type,
			cron_expression = EXCLUDED.cron_expression,
			interval_seconds = EXCLUDED.interval_seconds,
			timezone = EXCLUDED.timezone,
			inputs = EXCLUDED.inputs,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.WorkflowID,
		schedule.Name,
		schedule.Description,
		schedule.ScheduleType,
		schedule.CronExpression,
		schedule.IntervalSeconds,
		schedule.Timezone,
		inputsJSON,
		schedule.StartTime,
		schedule.EndTime,
		schedule.Status,
		schedule.NextRunAt,
		schedule.LastRunAt,
		schedule.CreatedAt,
		schedule.UpdatedAt,
		schedule.DeletedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveSchedule", schedule.ID, err)
	}

	return nil
}

// GetByID returns a live (not deleted) schedule.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	return r.get(ctx, "GetSchedule", id, "")
}

// LockByID reads a schedule with a row lock held until the surrounding transaction ends.
func (r *ScheduleRepository) LockByID(ctx context.Context, id string) (*models.Schedule, error) {
	return r.get(ctx, "LockSchedule", id, "FOR UPDATE")
}

func (r *ScheduleRepository) get(ctx context.Context, op, id, suffix string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1 AND deleted_at IS NULL ` + suffix

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, persistence.NewStoreError(op, id, err)
	}

	return schedule, nil
}

// List returns a page of live schedules ordered by creation time descending.
func (r *ScheduleRepository) List(ctx context.Context, opts persistence.ListSchedulesOptions) (*persistence.ScheduleListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	conditions := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 4)

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schedules WHERE "+where, args...).Scan(&total)
	if err != nil {
		return nil, persistence.NewStoreError("CountSchedules", "", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM schedules WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		scheduleColumns, where, len(args)-1, len(args),
	)

	schedules, err := r.query(ctx, "ListSchedules", query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.ScheduleListResult{
		Schedules:   schedules,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(schedules)) < total,
	}, nil
}

// Due returns enabled schedules due at now, oldest NextRunAt first.
func (r *ScheduleRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE status = 'enabled'
		  AND deleted_at IS NULL
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at, created_at
		LIMIT $2
	`

	return r.query(ctx, "DueSchedules", query, now, nullableLimit(limit))
}

// ExpireEnded flips enabled schedules whose window closed to expired.
func (r *ScheduleRepository) ExpireEnded(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE schedules
		SET status = 'expired', next_run_at = NULL, updated_at = $1
		WHERE status = 'enabled'
		  AND deleted_at IS NULL
		  AND end_time IS NOT NULL
		  AND end_time <= $1
	`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, persistence.NewStoreError("ExpireSchedules", "", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, persistence.NewStoreError("ExpireSchedules", "", err)
	}

	return affected, nil
}

// SoftDelete marks a schedule deleted and stops it from firing.
func (r *ScheduleRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE schedules
		SET deleted_at = $2, updated_at = $2, next_run_at = NULL
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return persistence.NewStoreError("DeleteSchedule", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("DeleteSchedule", id, err)
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

func (r *ScheduleRepository) query(ctx context.Context, op, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError(op, "", err)
	}

	defer closeRows(ctx, r.logger, rows)

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, persistence.NewStoreError(op, "", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError(op, "", err)
	}

	return schedules, nil
}

func scanSchedule(row scanner) (*models.Schedule, error) {
	var (
		schedule   models.Schedule
		inputsJSON []byte
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.WorkflowID,
		&schedule.Name,
		&schedule.Description,
		&schedule.ScheduleType,
		&schedule.CronExpression,
		&schedule.IntervalSeconds,
		&schedule.Timezone,
		&inputsJSON,
		&schedule.StartTime,
		&schedule.EndTime,
		&schedule.Status,
		&schedule.NextRunAt,
		&schedule.LastRunAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
		&schedule.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(inputsJSON, &schedule.Inputs); err != nil {
		return nil, err
	}

	utcSchedule(&schedule)

	return &schedule, nil
}

func utcSchedule(s *models.Schedule) {
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.StartTime = utcPtr(s.StartTime)
	s.EndTime = utcPtr(s.EndTime)
	s.NextRunAt = utcPtr(s.NextRunAt)
	s.LastRunAt = utcPtr(s.LastRunAt)
	s.DeletedAt = utcPtr(s.DeletedAt)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()

	return &u
}
