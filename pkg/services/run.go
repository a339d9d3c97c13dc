package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

// Dispatcher hands a freshly created run to the execution engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, run *models.Run) error
}

// Run manages the run lifecycle state machine.
type Run struct {
	persistence persistence.Persistence
	dispatcher  Dispatcher
	clock       clockwork.Clock
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewRun creates a new run service. dispatcher may be nil, in which case runs
// are only recorded.
func NewRun(persistence persistence.Persistence, dispatcher Dispatcher, clock clockwork.Clock, logger *slog.Logger) *Run {
	return &Run{
		persistence: persistence,
		dispatcher:  dispatcher,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("component", "run_service"),
	}
}

// CreateRunRequest describes a run to create. ScheduleID is nil for manual runs.
type CreateRunRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Inputs     map[string]any `json:"inputs"`
	ScheduleID *string        `json:"schedule_id"`
}

// RunResult is what the execution engine reports when a run finishes.
type RunResult struct {
	Success    bool             `json:"success"`
	Outputs    map[string]any   `json:"outputs"`
	NodeStates map[string]any   `json:"node_states"`
	Error      *models.RunError `json:"error"`
}

// ListRunsRequest contains options for listing runs of a workflow.
type ListRunsRequest struct {
	Page      int `validate:"min=0"`
	PageSize  int `validate:"min=0,max=100"`
	Status    *models.RunStatus
	StartDate *time.Time
	EndDate   *time.Time
}

// ListRunsResponse contains the result of listing runs.
type ListRunsResponse struct {
	Runs        []*models.Run `json:"runs"`
	TotalCount  int64         `json:"total_count"`
	Page        int           `json:"page"`
	PageSize    int           `json:"page_size"`
	HasNextPage bool          `json:"has_next_page"`
}

// CreateRun snapshots the workflow and persists a pending run with the
// workflow defaults merged under the caller inputs.
func (r *Run) CreateRun(ctx context.Context, req *CreateRunRequest) (*models.Run, error) {
	if err := r.validate.Struct(req); err != nil {
		return nil, NewValidationError("CreateRun", "INVALID_REQUEST", describeValidation(err), ErrInvalidRequest)
	}

	workflow, err := r.persistence.Workflows().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	inputs := make(map[string]any, len(workflow.DefaultInputs)+len(req.Inputs))
	maps.Copy(inputs, workflow.DefaultInputs)
	maps.Copy(inputs, req.Inputs)

	if err := validateInputs(workflow.InputSchema, inputs); err != nil {
		return nil, err
	}

	snapshot, err := snapshotGraph(workflow.GraphDefinition)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	now := r.now()
	run := &models.Run{
		ID:            id.String(),
		WorkflowID:    workflow.ID,
		ScheduleID:    req.ScheduleID,
		Status:        models.RunStatusPending,
		GraphSnapshot: snapshot,
		Inputs:        inputs,
		NodeStates:    map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.persistence.Runs().Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	r.logger.InfoContext(ctx, "run created", "run_id", run.ID, "workflow_id", run.WorkflowID, "schedule_id", run.ScheduleID)

	// The run exists from here on; a failed handoff leaves it pending.
	if r.dispatcher != nil {
		if err := r.dispatcher.Dispatch(ctx, run); err != nil {
			r.logger.ErrorContext(ctx, "failed to dispatch run", "run_id", run.ID, "error", err)
		}
	}

	return run, nil
}

// StartRun marks a pending run as running. Any other status is left as is, so
// duplicate start signals are harmless.
func (r *Run) StartRun(ctx context.Context, id string) (*models.Run, error) {
	return r.transition(ctx, id, func(run *models.Run, now time.Time) (bool, error) {
		if run.Status != models.RunStatusPending {
			return false, nil
		}

		run.Status = models.RunStatusRunning
		run.StartedAt = &now
		run.UpdatedAt = now

		return true, nil
	})
}

// CompleteRun finishes a pending or running run as success or failure and
// merges the reported outputs and node states.
func (r *Run) CompleteRun(ctx context.Context, id string, result RunResult) (*models.Run, error) {
	return r.transition(ctx, id, func(run *models.Run, now time.Time) (bool, error) {
		status := models.RunStatusFailed
		if result.Success {
			status = models.RunStatusSuccess
		}

		if run.Status.IsTerminal() {
			return false, newRunStateError("CompleteRun", run.ID, string(run.Status), string(status))
		}

		run.Outputs = merge(run.Outputs, result.Outputs)
		run.NodeStates = merge(run.NodeStates, result.NodeStates)

		if result.Error != nil {
			runError := *result.Error
			run.Error = &runError
		}

		run.Finish(status, now)

		return true, nil
	})
}

// CancelRun cancels a pending or running run. It only changes bookkeeping; the
// executor is expected to observe the new status.
func (r *Run) CancelRun(ctx context.Context, id string) (*models.Run, error) {
	return r.transition(ctx, id, func(run *models.Run, now time.Time) (bool, error) {
		if run.Status.IsTerminal() {
			return false, newRunStateError("CancelRun", run.ID, string(run.Status), string(models.RunStatusCancelled))
		}

		run.Finish(models.RunStatusCancelled, now)

		return true, nil
	})
}

// FetchByID retrieves a run by its ID.
func (r *Run) FetchByID(ctx context.Context, id string) (*models.Run, error) {
	run, err := r.persistence.Runs().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns a page of runs of a workflow, newest first.
func (r *Run) ListRuns(ctx context.Context, workflowID string, req ListRunsRequest) (*ListRunsResponse, error) {
	if err := r.validateListRunsRequest(&req); err != nil {
		return nil, err
	}

	result, err := r.persistence.Runs().ListByWorkflow(ctx, workflowID, persistence.ListRunsOptions{
		Page:      req.Page,
		PageSize:  req.PageSize,
		Status:    req.Status,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return &ListRunsResponse{
		Runs:        result.Runs,
		TotalCount:  result.TotalCount,
		Page:        req.Page,
		PageSize:    req.PageSize,
		HasNextPage: int64(req.Page*req.PageSize) < result.TotalCount,
	}, nil
}

// DeleteRuns hard deletes runs and returns how many were removed.
func (r *Run) DeleteRuns(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := r.persistence.Runs().DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}

	r.logger.InfoContext(ctx, "runs deleted", "requested", len(ids), "deleted", deleted)

	return deleted, nil
}

// CleanupOldRuns deletes terminal runs created more than daysToKeep days ago.
// Pending and running runs are never removed, however old.
func (r *Run) CleanupOldRuns(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 1 {
		return 0, NewValidationError("CleanupOldRuns", "INVALID_RETENTION",
			fmt.Sprintf("days to keep must be at least 1, got %d", daysToKeep), ErrInvalidRequest)
	}

	cutoff := r.now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)

	deleted, err := r.persistence.Runs().DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up runs: %w", err)
	}

	r.logger.InfoContext(ctx, "old runs cleaned up", "days_to_keep", daysToKeep, "cutoff", cutoff, "deleted", deleted)

	return deleted, nil
}

// transition applies fn to the locked run and saves it when fn reports a change.
func (r *Run) transition(ctx context.Context, id string, fn func(run *models.Run, now time.Time) (bool, error)) (*models.Run, error) {
	var updated *models.Run

	err := r.persistence.WithTransaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		run, err := tx.Runs().LockByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to lock run: %w", err)
		}

		changed, err := fn(run, r.now())
		if err != nil {
			return err
		}

		if changed {
			if err := tx.Runs().Save(ctx, run); err != nil {
				return fmt.Errorf("failed to save run: %w", err)
			}
		}

		updated = run

		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "run transition", "run_id", updated.ID, "status", updated.Status)

	return updated, nil
}

func (r *Run) validateListRunsRequest(req *ListRunsRequest) error {
	if err := r.validate.Struct(req); err != nil {
		return NewValidationError("ListRuns", "INVALID_REQUEST", describeValidation(err), ErrInvalidRequest)
	}

	if req.Page < 1 {
		req.Page = 1
	}

	if req.PageSize == 0 {
		req.PageSize = 20
	}

	if req.Status != nil && !req.Status.IsValid() {
		return NewValidationError("ListRuns", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", *req.Status), ErrInvalidRequest)
	}

	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return NewValidationError("ListRuns", "INVALID_DATE_RANGE", "end date must not be before start date", ErrInvalidRequest)
	}

	return nil
}

func (r *Run) now() time.Time {
	return r.clock.Now().UTC()
}

func validateInputs(schema map[string]any, inputs map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(inputs))
	if err != nil {
		return NewValidationError("CreateRun", "INVALID_INPUT_SCHEMA", "workflow input schema is invalid: "+err.Error(), ErrInvalidRunInputs)
	}

	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}

	return NewValidationError("CreateRun", "INVALID_RUN_INPUTS", strings.Join(reasons, "; "), ErrInvalidRunInputs)
}

// snapshotGraph deep copies a workflow definition so the run never shares
// nested values with the live workflow.
func snapshotGraph(graph map[string]any) (map[string]any, error) {
	if graph == nil {
		return map[string]any{}, nil
	}

	data, err := json.Marshal(graph)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot workflow graph: %w", err)
	}

	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to snapshot workflow graph: %w", err)
	}

	return snapshot, nil
}

func merge(current, update map[string]any) map[string]any {
	if len(update) == 0 {
		return current
	}

	merged := maps.Clone(current)
	if merged == nil {
		merged = make(map[string]any, len(update))
	}

	maps.Copy(merged, update)

	return merged
}
