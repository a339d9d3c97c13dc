// Package persistence provides the storage abstraction for schedules, runs and workflows.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/cadence/pkg/models"
)

// Persistence is the entry point to every repository plus transaction support.
type Persistence interface {
	Repositories

	// WithTransaction runs fn atomically: every repository reached through tx
	// sees and writes the same transaction, and an error from fn rolls it back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Repositories groups the repositories available either directly or inside a transaction.
type Repositories interface {
	Schedules() ScheduleRepository
	Runs() RunRepository
	Workflows() WorkflowRepository
}

// ScheduleRepository stores schedules. Deleted schedules are kept with DeletedAt set.
type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.Schedule) error
	GetByID(ctx context.Context, id string) (*models.Schedule, error)
	// LockByID reads a schedule and locks it for the rest of the transaction.
	LockByID(ctx context.Context, id string) (*models.Schedule, error)
	List(ctx context.Context, opts ListSchedulesOptions) (*ScheduleListResult, error)
	// Due returns enabled schedules with NextRunAt <= now, oldest due first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error)
	// ExpireEnded marks enabled schedules whose EndTime <= now as expired.
	ExpireEnded(ctx context.Context, now time.Time) (int64, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// RunRepository stores runs. Runs are hard deleted.
type RunRepository interface {
	Save(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	LockByID(ctx context.Context, id string) (*models.Run, error)
	ListByWorkflow(ctx context.Context, workflowID string, opts ListRunsOptions) (*RunListResult, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	// DeleteTerminalBefore removes terminal runs created before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkflowRepository is the workflow definition store the scheduler reads from.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
}

// ListSchedulesOptions filters and paginates schedules.
type ListSchedulesOptions struct {
	WorkflowID string
	Status     *models.ScheduleStatus
	Limit      int
	Offset     int
}

// ScheduleListResult is a page of schedules ordered by creation time descending.
type ScheduleListResult struct {
	Schedules   []*models.Schedule
	TotalCount  int64
	HasNextPage bool
}

// ListRunsOptions filters and paginates runs. Page is 1-based.
type ListRunsOptions struct {
	Page      int
	PageSize  int
	Status    *models.RunStatus
	StartDate *time.Time
	EndDate   *time.Time
}

// RunListResult is a page of runs ordered by creation time descending.
type RunListResult struct {
	Runs       []*models.Run
	TotalCount int64
}
