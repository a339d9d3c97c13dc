package models

import (
	"maps"
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// TerminalRunStatuses lists the absorbing states of the run state machine.
var TerminalRunStatuses = []RunStatus{RunStatusSuccess, RunStatusFailed, RunStatusCancelled}

// IsTerminal reports whether no further transition is legal from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known run status.
func (s RunStatus) IsValid() bool {
	return s == RunStatusPending || s == RunStatusRunning || s.IsTerminal()
}

// RunError describes why a run failed.
type RunError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
}

// Run is a single auditable execution instance of a workflow.
type Run struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	ScheduleID *string   `json:"schedule_id,omitempty"` // nil for manual/API runs
	Status     RunStatus `json:"status"`

	// GraphSnapshot freezes the workflow definition at creation time.
	GraphSnapshot map[string]any `json:"graph_snapshot"`
	Inputs        map[string]any `json:"inputs"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	NodeStates    map[string]any `json:"node_states"`
	Error         *RunError      `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Finish moves the run into the terminal status and derives DurationMs when
// the run had started.
func (r *Run) Finish(status RunStatus, now time.Time) {
	r.Status = status
	r.CompletedAt = &now
	r.UpdatedAt = now
	r.DurationMs = nil

	if r.StartedAt != nil {
		duration := now.Sub(*r.StartedAt).Milliseconds()
		r.DurationMs = &duration
	}
}

// Clone returns a copy of r whose top-level maps are not shared.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}

	c := *r
	c.GraphSnapshot = maps.Clone(r.GraphSnapshot)
	c.Inputs = maps.Clone(r.Inputs)
	c.Outputs = maps.Clone(r.Outputs)
	c.NodeStates = maps.Clone(r.NodeStates)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)

	if r.ScheduleID != nil {
		id := *r.ScheduleID
		c.ScheduleID = &id
	}

	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}

	if r.DurationMs != nil {
		d := *r.DurationMs
		c.DurationMs = &d
	}

	return &c
}
