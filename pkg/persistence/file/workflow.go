package file

import (
	"context"
	"errors"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store accessor
}

// Save inserts or replaces a workflow definition.
func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		return errors.New("workflow ID is required")
	}

	return r.store.write(func(d *dataset) error {
		d.workflows[workflow.ID] = workflow.Clone()

		return nil
	})
}

// GetByID returns a live workflow definition.
func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	var found *models.Workflow

	err := r.store.read(func(d *dataset) error {
		workflow, ok := d.workflows[id]
		if !ok || workflow.DeletedAt != nil {
			return persistence.ErrWorkflowNotFound
		}

		found = workflow.Clone()

		return nil
	})

	return found, err
}
