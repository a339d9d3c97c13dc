package services

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

// Workflow is the read side of the workflow definition store plus the
// registration path used to seed it.
type Workflow struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, clock clockwork.Clock) *Workflow {
	return &Workflow{
		persistence: persistence,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Register creates or replaces a workflow definition.
func (w *Workflow) Register(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("Register", "INVALID_WORKFLOW", "workflow cannot be nil", ErrInvalidRequest)
	}

	if err := w.validate.Struct(workflow); err != nil {
		return nil, NewValidationError("Register", "INVALID_WORKFLOW", describeValidation(err), ErrInvalidRequest)
	}

	now := w.clock.Now().UTC()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	existing, err := w.persistence.Workflows().GetByID(ctx, workflow.ID)

	switch {
	case err == nil:
		workflow.CreatedAt = existing.CreatedAt
	case persistence.IsWorkflowNotFound(err):
		workflow.CreatedAt = now
	default:
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	workflow.UpdatedAt = now

	if err := w.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}
