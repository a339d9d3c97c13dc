// Package web provides HTTP request and response types for the scheduler API.
package web

import "github.com/dukex/cadence/pkg/models"

// RegisterWorkflowRequest represents the request body for registering a workflow definition.
type RegisterWorkflowRequest struct {
	Name            string         `json:"name"             validate:"required,min=3"`
	Description     string         `json:"description"`
	DefaultInputs   map[string]any `json:"default_inputs"`
	GraphDefinition map[string]any `json:"graph_definition" validate:"required"`
	InputSchema     map[string]any `json:"input_schema,omitempty"`
}

// ToModel builds the workflow identified by id from the request.
func (r RegisterWorkflowRequest) ToModel(id string) *models.Workflow {
	return &models.Workflow{
		ID:              id,
		Name:            r.Name,
		Description:     r.Description,
		DefaultInputs:   r.DefaultInputs,
		GraphDefinition: r.GraphDefinition,
		InputSchema:     r.InputSchema,
	}
}

// CreateRunRequest represents the request body for a manual run of a workflow.
type CreateRunRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// DeleteRunsRequest represents the request body for deleting runs.
type DeleteRunsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// CleanupRunsRequest represents the request body for the run retention sweep.
type CleanupRunsRequest struct {
	DaysToKeep int `json:"days_to_keep" validate:"required,min=1"`
}

// CountResponse reports how many records an operation touched.
type CountResponse struct {
	Count int64 `json:"count"`
}
