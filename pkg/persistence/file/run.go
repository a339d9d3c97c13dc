package file

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

// RunRepository handles run-related file operations.
type RunRepository struct {
	store accessor
}

// Save inserts or replaces a run.
func (r *RunRepository) Save(_ context.Context, run *models.Run) error {
	if run.ID == "" {
		return errors.New("run ID is required")
	}

	return r.store.write(func(d *dataset) error {
		d.runs[run.ID] = run.Clone()

		return nil
	})
}

// GetByID returns a run by ID.
func (r *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	var found *models.Run

	err := r.store.read(func(d *dataset) error {
		run, ok := d.runs[id]
		if !ok {
			return persistence.ErrRunNotFound
		}

		found = run.Clone()

		return nil
	})

	return found, err
}

// LockByID is GetByID: a file transaction already holds the store mutex.
func (r *RunRepository) LockByID(ctx context.Context, id string) (*models.Run, error) {
	return r.GetByID(ctx, id)
}

// ListByWorkflow returns a page of runs of a workflow, newest first.
func (r *RunRepository) ListByWorkflow(_ context.Context, workflowID string, opts persistence.ListRunsOptions) (*persistence.RunListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}

	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}

	filtered := make([]*models.Run, 0)

	err := r.store.read(func(d *dataset) error {
		for _, run := range d.runs {
			if run.WorkflowID != workflowID {
				continue
			}

			if opts.Status != nil && run.Status != *opts.Status {
				continue
			}

			if opts.StartDate != nil && run.CreatedAt.Before(*opts.StartDate) {
				continue
			}

			if opts.EndDate != nil && run.CreatedAt.After(*opts.EndDate) {
				continue
			}

			filtered = append(filtered, run.Clone())
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}

		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	start := min((opts.Page-1)*opts.PageSize, total)
	end := min(start+opts.PageSize, total)

	return &persistence.RunListResult{
		Runs:       filtered[start:end],
		TotalCount: int64(total),
	}, nil
}

// DeleteByIDs hard deletes the given runs and reports how many existed.
func (r *RunRepository) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	var deleted int64

	err := r.store.write(func(d *dataset) error {
		for _, id := range ids {
			if _, ok := d.runs[id]; ok {
				delete(d.runs, id)
				deleted++
			}
		}

		return nil
	})

	return deleted, err
}

// DeleteTerminalBefore removes finished runs created before cutoff.
func (r *RunRepository) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	err := r.store.write(func(d *dataset) error {
		for id, run := range d.runs {
			if run.Status.IsTerminal() && run.CreatedAt.Before(cutoff) {
				delete(d.runs, id)
				deleted++
			}
		}

		return nil
	})

	return deleted, err
}
