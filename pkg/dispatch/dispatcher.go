// Package dispatch hands pending runs to the execution engine over the event bus.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/dukex/cadence/pkg/eventbus"
	"github.com/dukex/cadence/pkg/events"
	"github.com/dukex/cadence/pkg/models"
)

var errNilRun = errors.New("cannot dispatch a nil run")

// IDGenerator issues event IDs.
type IDGenerator interface {
	GenerateID() string
}

// EventDispatcher publishes a RunDispatched event for every run it is given.
// The run ID is the partition key so every event of a run lands in order.
type EventDispatcher struct {
	publisher eventbus.EventPublisher
	ids       IDGenerator
	clock     clockwork.Clock
	workerID  string
	logger    *slog.Logger
}

// NewEventDispatcher stamps every event with workerID and the clock's time.
func NewEventDispatcher(publisher eventbus.EventPublisher, ids IDGenerator, clock clockwork.Clock, workerID string, logger *slog.Logger) *EventDispatcher {
	return &EventDispatcher{
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		workerID:  workerID,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch publishes the RunDispatched event for run.
func (d *EventDispatcher) Dispatch(ctx context.Context, run *models.Run) error {
	if run == nil {
		return errNilRun
	}

	event := events.RunDispatched{
		BaseEvent: events.BaseEvent{
			ID:         d.ids.GenerateID(),
			Type:       events.RunDispatchedEvent,
			Timestamp:  d.clock.Now().UTC(),
			WorkflowID: run.WorkflowID,
			RunID:      run.ID,
			WorkerID:   d.workerID,
		},
		ScheduleID:    run.ScheduleID,
		Inputs:        run.Inputs,
		GraphSnapshot: run.GraphSnapshot,
	}

	if err := d.publisher.Publish(ctx, run.ID, event); err != nil {
		return fmt.Errorf("failed to dispatch run %s: %w", run.ID, err)
	}

	d.logger.DebugContext(ctx, "run dispatched", "run_id", run.ID, "workflow_id", run.WorkflowID)

	return nil
}
