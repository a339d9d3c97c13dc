// Package models defines the core domain models for workflow scheduling and run tracking.
package models

import (
	"maps"
	"time"
)

// Workflow is the definition a run is instantiated from. The scheduler never
// interprets GraphDefinition; it only snapshots it into each run.
type Workflow struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"                   validate:"required"`
	Description     string         `json:"description"`
	DefaultInputs   map[string]any `json:"default_inputs,omitempty"`
	GraphDefinition map[string]any `json:"graph_definition"`
	// InputSchema is an optional JSON Schema the merged run inputs must satisfy.
	InputSchema map[string]any `json:"input_schema,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// Clone returns a copy whose top-level maps are not shared with w.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	c := *w
	c.DefaultInputs = maps.Clone(w.DefaultInputs)
	c.GraphDefinition = maps.Clone(w.GraphDefinition)
	c.InputSchema = maps.Clone(w.InputSchema)
	c.DeletedAt = cloneTime(w.DeletedAt)

	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
