// Package listener applies execution feedback from the engine to the run lifecycle.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/cadence/pkg/eventbus"
	"github.com/dukex/cadence/pkg/events"
	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/services"
)

// RunLifecycle is the part of the run service the listener drives.
type RunLifecycle interface {
	StartRun(ctx context.Context, id string) (*models.Run, error)
	CompleteRun(ctx context.Context, id string, result services.RunResult) (*models.Run, error)
	CancelRun(ctx context.Context, id string) (*models.Run, error)
}

var errUnexpectedEvent = errors.New("unexpected event payload")

// Listener moves runs through their lifecycle as engine events arrive.
type Listener struct {
	runs   RunLifecycle
	logger *slog.Logger
}

// New returns a Listener driving runs. Call Register to subscribe it.
func New(runs RunLifecycle, logger *slog.Logger) *Listener {
	return &Listener{
		runs:   runs,
		logger: logger.With("component", "run_listener"),
	}
}

// Register installs the handlers for every engine feedback event on subscriber.
func (l *Listener) Register(subscriber eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.RunStartedEvent:   l.handleRunStarted,
		events.RunCompletedEvent: l.handleRunCompleted,
		events.RunCancelledEvent: l.handleRunCancelled,
	}

	for eventType, handler := range handlers {
		if err := subscriber.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", eventType, err)
		}
	}

	return nil
}

func (l *Listener) handleRunStarted(ctx context.Context, event any) error {
	started, ok := event.(*events.RunStarted)
	if !ok {
		return errUnexpectedEvent
	}

	_, err := l.runs.StartRun(ctx, started.RunID)

	return l.settle(ctx, events.RunStartedEvent, started.RunID, err)
}

func (l *Listener) handleRunCompleted(ctx context.Context, event any) error {
	completed, ok := event.(*events.RunCompleted)
	if !ok {
		return errUnexpectedEvent
	}

	_, err := l.runs.CompleteRun(ctx, completed.RunID, services.RunResult{
		Success:    completed.Success,
		Outputs:    completed.Outputs,
		NodeStates: completed.NodeStates,
		Error:      completed.Error,
	})

	return l.settle(ctx, events.RunCompletedEvent, completed.RunID, err)
}

func (l *Listener) handleRunCancelled(ctx context.Context, event any) error {
	cancelled, ok := event.(*events.RunCancelled)
	if !ok {
		return errUnexpectedEvent
	}

	_, err := l.runs.CancelRun(ctx, cancelled.RunID)

	return l.settle(ctx, events.RunCancelledEvent, cancelled.RunID, err)
}

// settle decides whether a failed transition should be redelivered. A state
// error means the transition already happened and a missing run will never
// appear, so both are acknowledged.
func (l *Listener) settle(ctx context.Context, eventType events.EventType, runID string, err error) error {
	switch {
	case err == nil:
		l.logger.DebugContext(ctx, "applied run feedback", "event_type", eventType, "run_id", runID)

		return nil
	case services.IsStateError(err):
		l.logger.InfoContext(ctx, "ignoring redelivered run feedback", "event_type", eventType, "run_id", runID, "error", err)

		return nil
	case services.IsNotFoundError(err):
		l.logger.WarnContext(ctx, "run feedback for unknown run", "event_type", eventType, "run_id", runID)

		return nil
	default:
		return fmt.Errorf("failed to apply %s for run %s: %w", eventType, runID, err)
	}
}
