package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db querier
}

// Save inserts or updates a workflow definition.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	defaultInputsJSON, err := marshalJSON(workflow.DefaultInputs)
	if err != nil {
		return err
	}

	graphJSON, err := marshalJSON(workflow.GraphDefinition)
	if err != nil {
		return err
	}

	var schemaJSON any
	if workflow.InputSchema != nil {
		schemaJSON, err = marshalJSON(workflow.InputSchema)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO workflows (id, name, description, default_inputs, graph_definition, input_schema, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			default_inputs = EXCLUDED.default_inputs,
			graph_definition = EXCLUDED.graph_definition,
			input_schema = EXCLUDED.input_schema,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		defaultInputsJSON,
		graphJSON,
		schemaJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

// GetByID returns a live workflow definition.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , default_inputs
		  , graph_definition
		  , input_schema
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	var (
		workflow                                 models.Workflow
		defaultInputsJSON, graphJSON, schemaJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&defaultInputsJSON,
		&graphJSON,
		&schemaJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewStoreError("GetWorkflow", id, err)
	}

	if err := unmarshalJSON(defaultInputsJSON, &workflow.DefaultInputs); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(graphJSON, &workflow.GraphDefinition); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(schemaJSON, &workflow.InputSchema); err != nil {
		return nil, err
	}

	workflow.CreatedAt = workflow.CreatedAt.UTC()
	workflow.UpdatedAt = workflow.UpdatedAt.UTC()

	return &workflow, nil
}
