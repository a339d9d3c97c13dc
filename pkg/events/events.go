// Package events defines the run lifecycle messages exchanged with the execution engine.
package events

import (
	"time"

	"github.com/dukex/cadence/pkg/models"
)

type EventType string

// Topic carries every run lifecycle event.
const Topic = "cadence.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Published by the scheduler when a run is handed to the engine.
	RunDispatchedEvent EventType = "run.dispatched"

	// Reported back by the execution engine.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunCancelledEvent EventType = "run.cancelled"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	RunID      string         `json:"run_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunDispatched asks the engine to execute a pending run.
type RunDispatched struct {
	BaseEvent

	ScheduleID    *string        `json:"schedule_id,omitempty"`
	Inputs        map[string]any `json:"inputs"`
	GraphSnapshot map[string]any `json:"graph_snapshot"`
}

func (e RunDispatched) GetType() EventType {
	return RunDispatchedEvent
}

// RunStarted reports that the engine picked a run up.
type RunStarted struct {
	BaseEvent
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// RunCompleted reports the outcome of a run.
type RunCompleted struct {
	BaseEvent

	Success    bool             `json:"success"`
	Outputs    map[string]any   `json:"outputs,omitempty"`
	NodeStates map[string]any   `json:"node_states,omitempty"`
	Error      *models.RunError `json:"error,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

// RunCancelled reports that a run was cancelled from the engine side.
type RunCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

// New returns an empty event of the given type for decoding, or false when the
// type is unknown.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case RunDispatchedEvent:
		return &RunDispatched{}, true
	case RunStartedEvent:
		return &RunStarted{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunCancelledEvent:
		return &RunCancelled{}, true
	default:
		return nil, false
	}
}
