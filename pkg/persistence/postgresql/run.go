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
	"github.com/lib/pq"
)

const runColumns = `
	id
  , workflow_id
  , schedule_id
  , status
  , graph_snapshot
  , inputs
  , outputs
  , node_states
  , error
  , started_at
  , completed_at
  , duration_ms
  , created_at
  , updated_at
`

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     querier
	logger *slog.Logger
}

// Save inserts or updates a run.
func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	snapshotJSON, err := marshalJSON(run.GraphSnapshot)
	if err != nil {
		return err
	}

	inputsJSON, err := marshalJSON(run.Inputs)
	if err != nil {
		return err
	}

	outputsJSON, err := marshalJSON(run.Outputs)
	if err != nil {
		return err
	}

	nodeStatesJSON, err := marshalJSON(run.NodeStates)
	if err != nil {
		return err
	}

	// NULL rather than an empty JSONB value when the run has no error
	var errorJSON any
	if run.Error != nil {
		errorJSON, err = marshalJSON(run.Error)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			outputs = EXCLUDED.outputs,
			node_states = EXCLUDED.node_states,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.ScheduleID,
		run.Status,
		snapshotJSON,
		inputsJSON,
		outputsJSON,
		nodeStatesJSON,
		errorJSON,
		run.StartedAt,
		run.CompletedAt,
		run.DurationMs,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

// GetByID returns a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	return r.get(ctx, "GetRun", id, "")
}

// LockByID reads a run with a row lock held until the surrounding transaction ends.
func (r *RunRepository) LockByID(ctx context.Context, id string) (*models.Run, error) {
	return r.get(ctx, "LockRun", id, "FOR UPDATE")
}

func (r *RunRepository) get(ctx context.Context, op, id, suffix string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1 ` + suffix

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, persistence.NewStoreError(op, id, err)
	}

	return run, nil
}

// ListByWorkflow returns a page of runs of a workflow, newest first.
func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID string, opts persistence.ListRunsOptions) (*persistence.RunListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}

	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}

	conditions := []string{"workflow_id = $1"}
	args := []any{workflowID}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	if opts.StartDate != nil {
		args = append(args, *opts.StartDate)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if opts.EndDate != nil {
		args = append(args, *opts.EndDate)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE "+where, args...).Scan(&total)
	if err != nil {
		return nil, persistence.NewStoreError("CountRuns", workflowID, err)
	}

	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)
	query := fmt.Sprintf(
		"SELECT %s FROM runs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		runColumns, where, len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError("ListRuns", workflowID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, persistence.NewStoreError("ListRuns", workflowID, err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("ListRuns", workflowID, err)
	}

	return &persistence.RunListResult{Runs: runs, TotalCount: total}, nil
}

// DeleteByIDs hard deletes the given runs and reports how many existed.
func (r *RunRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, persistence.NewStoreError("DeleteRuns", "", err)
	}

	return rowsAffected("DeleteRuns", result)
}

// DeleteTerminalBefore removes finished runs created before cutoff.
func (r *RunRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	statuses := make([]string, 0, len(models.TerminalRunStatuses))
	for _, status := range models.TerminalRunStatuses {
		statuses = append(statuses, string(status))
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM runs WHERE status = ANY($1) AND created_at < $2",
		pq.Array(statuses), cutoff,
	)
	if err != nil {
		return 0, persistence.NewStoreError("CleanupRuns", "", err)
	}

	return rowsAffected("CleanupRuns", result)
}

func rowsAffected(op string, result sql.Result) (int64, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, persistence.NewStoreError(op, "", err)
	}

	return affected, nil
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run                                   models.Run
		snapshotJSON, inputsJSON, outputsJSON []byte
		nodeStatesJSON, errorJSON             []byte
	)

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.ScheduleID,
		&run.Status,
		&snapshotJSON,
		&inputsJSON,
		&outputsJSON,
		&nodeStatesJSON,
		&errorJSON,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMs,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, column := range []struct {
		data []byte
		into any
	}{
		{snapshotJSON, &run.GraphSnapshot},
		{inputsJSON, &run.Inputs},
		{outputsJSON, &run.Outputs},
		{nodeStatesJSON, &run.NodeStates},
		{errorJSON, &run.Error},
	} {
		if err := unmarshalJSON(column.data, column.into); err != nil {
			return nil, err
		}
	}

	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	run.StartedAt = utcPtr(run.StartedAt)
	run.CompletedAt = utcPtr(run.CompletedAt)

	return &run, nil
}
