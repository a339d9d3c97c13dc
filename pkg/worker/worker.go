// Package worker runs the scheduler control loop that turns due schedules into runs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/cadence/pkg/lock"
	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/otelhelper"
	"github.com/dukex/cadence/pkg/services"
)

// Schedules is the part of the schedule service the worker depends on.
type Schedules interface {
	FetchByID(ctx context.Context, id string) (*models.Schedule, error)
	GetSchedulesToRun(ctx context.Context, limit int) ([]*models.Schedule, error)
	MarkScheduleDispatched(ctx context.Context, id string, dispatchedAt time.Time) (*models.Schedule, error)
	UpdateScheduleAfterRun(ctx context.Context, schedule *models.Schedule) (*models.Schedule, error)
	ExpireSchedules(ctx context.Context) (int64, error)
}

// Runs is the part of the run service the worker depends on.
type Runs interface {
	CreateRun(ctx context.Context, req *services.CreateRunRequest) (*models.Run, error)
}

// Config holds the scan loop settings.
type Config struct {
	ID                string        `json:"id"`
	ScanInterval      time.Duration `json:"scan_interval"       validate:"gt=0"`
	MaxConcurrentRuns int           `json:"max_concurrent_runs" validate:"gte=1"`
}

// DefaultConfig scans every 30 seconds and dispatches at most 10 schedules per cycle.
func DefaultConfig() Config {
	return Config{
		ID:                "scheduler",
		ScanInterval:      30 * time.Second,
		MaxConcurrentRuns: 10,
	}
}

// CycleResult summarizes one scan cycle.
type CycleResult struct {
	Skipped    bool
	Due        int
	Dispatched int
	Failed     int
	Expired    int64
	Duration   time.Duration
}

// Status is a point-in-time snapshot of the worker.
type Status struct {
	ID                string        `json:"id"`
	Running           bool          `json:"running"`
	Scanning          bool          `json:"scanning"`
	InFlight          int64         `json:"in_flight"`
	Cycles            uint64        `json:"cycles"`
	SkippedCycles     uint64        `json:"skipped_cycles"`
	Dispatched        uint64        `json:"dispatched"`
	Failed            uint64        `json:"failed"`
	LastCycleAt       *time.Time    `json:"last_cycle_at,omitempty"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
	ScanInterval      time.Duration `json:"scan_interval"`
	MaxConcurrentRuns int           `json:"max_concurrent_runs"`
}

// Option configures optional collaborators of a Worker.
type Option func(*Worker)

// WithLocker gates every scan cycle behind a lease.
func WithLocker(locker lock.Locker) Option {
	return func(w *Worker) {
		w.locker = locker
	}
}

// WithTracer records a span per scan cycle and per dispatch.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) {
		w.tracer = tracer
	}
}

// WithMeter records cycle duration and dispatch counters on meter.
func WithMeter(meter metric.Meter) Option {
	return func(w *Worker) {
		w.meter = meter
	}
}

type instruments struct {
	cycleDuration    metric.Float64Histogram
	dispatched       metric.Int64Counter
	dispatchFailures metric.Int64Counter
}

// Worker is the scheduler control loop. One tick of the ticker starts one scan
// cycle; a tick that arrives while a cycle is still running is dropped.
type Worker struct {
	config    Config
	schedules Schedules
	runs      Runs
	clock     clockwork.Clock
	locker    lock.Locker
	tracer    trace.Tracer
	meter     metric.Meter
	metrics   instruments
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	scanning       atomic.Bool
	releasePending atomic.Bool
	inFlight      atomic.Int64
	cycles        atomic.Uint64
	skippedCycles atomic.Uint64
	dispatched    atomic.Uint64
	failed        atomic.Uint64

	statsMu           sync.RWMutex
	lastCycleAt       *time.Time
	lastCycleDuration time.Duration
}

// New validates config and builds a stopped worker. Without options it runs
// with a noop tracer and meter and no lease.
func New(config Config, schedules Schedules, runs Runs, clock clockwork.Clock, logger *slog.Logger, opts ...Option) (*Worker, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	w := &Worker{
		config:    config,
		schedules: schedules,
		runs:      runs,
		clock:     clock,
		tracer:    otelhelper.NoopTracer(),
		meter:     noop.NewMeterProvider().Meter("cadence/scheduler"),
		logger:    logger.With("module", "scheduler_worker", "worker_id", config.ID),
	}

	for _, opt := range opts {
		opt(w)
	}

	if err := w.initInstruments(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Worker) initInstruments() error {
	var err error

	w.metrics.cycleDuration, err = w.meter.Float64Histogram("cadence.scheduler.cycle.duration",
		metric.WithDescription("Duration of a scheduler scan cycle"),
		metric.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("failed to create cycle duration histogram: %w", err)
	}

	w.metrics.dispatched, err = w.meter.Int64Counter("cadence.scheduler.dispatched",
		metric.WithDescription("Scheduled dispatches recorded on their schedule"))
	if err != nil {
		return fmt.Errorf("failed to create dispatched counter: %w", err)
	}

	w.metrics.dispatchFailures, err = w.meter.Int64Counter("cadence.scheduler.dispatch_failures",
		metric.WithDescription("Scheduled dispatches that failed"))
	if err != nil {
		return fmt.Errorf("failed to create dispatch failures counter: %w", err)
	}

	return nil
}

// Start begins ticking every ScanInterval. Calling Start on a running worker
// does nothing.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ticker := w.clock.NewTicker(w.config.ScanInterval)
	w.cancel = cancel
	w.releasePending.Store(false)

	go w.loop(loopCtx, ticker)

	w.logger.InfoContext(ctx, "scheduler worker started",
		"scan_interval", w.config.ScanInterval,
		"max_concurrent_runs", w.config.MaxConcurrentRuns)

	return nil
}

// Stop halts the ticker. A cycle already in progress runs to completion in the
// background and the lease is released once it finished. Calling Stop on a
// stopped worker does nothing.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.halt() {
		return nil
	}

	w.logger.InfoContext(ctx, "scheduler worker stopped")

	if w.locker == nil {
		return nil
	}

	w.releasePending.Store(true)

	if err := w.releaseWhenIdle(ctx); err != nil {
		return fmt.Errorf("failed to release scheduler lease: %w", err)
	}

	return nil
}

func (w *Worker) halt() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return false
	}

	w.cancel()
	w.cancel = nil

	return true
}

// releaseWhenIdle gives the lease up after Stop once no cycle is running.
// Stop and the last cycle both call it; only one of them releases.
func (w *Worker) releaseWhenIdle(ctx context.Context) error {
	if w.IsRunning() || w.scanning.Load() {
		return nil
	}

	if !w.releasePending.CompareAndSwap(true, false) {
		return nil
	}

	return w.locker.Release(ctx)
}

// IsRunning reports whether the ticker loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cancel != nil
}

func (w *Worker) loop(ctx context.Context, ticker clockwork.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			go w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	// Cycles outlive Stop so a dispatch is never cut between run creation and
	// schedule bookkeeping.
	w.ScanCycle(context.WithoutCancel(ctx))
}

// ScanCycle runs one scan: dispatch up to MaxConcurrentRuns due schedules,
// then expire schedules past their end time. It returns immediately with
// Skipped set when another cycle is in progress or the lease is held elsewhere.
func (w *Worker) ScanCycle(ctx context.Context) CycleResult {
	if !w.scanning.CompareAndSwap(false, true) {
		w.skippedCycles.Add(1)
		w.logger.WarnContext(ctx, "previous scan cycle still running, skipping tick")

		return CycleResult{Skipped: true}
	}

	startedAt := w.clock.Now()
	result := CycleResult{}

	defer func() {
		result.Duration = w.clock.Since(startedAt)
		w.recordCycle(ctx, startedAt, result)
		w.scanning.Store(false)

		if w.locker != nil {
			if err := w.releaseWhenIdle(ctx); err != nil {
				w.logger.ErrorContext(ctx, "failed to release scheduler lease", "error", err)
			}
		}
	}()

	if !w.holdsLease(ctx) {
		result.Skipped = true
		w.skippedCycles.Add(1)

		return result
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "scheduler.scan_cycle",
		attribute.String(otelhelper.WorkerIDKey, w.config.ID))
	defer span.End()

	due, err := w.schedules.GetSchedulesToRun(ctx, w.config.MaxConcurrentRuns)
	if err != nil {
		otelhelper.SetError(span, err)
		w.logger.ErrorContext(ctx, "failed to fetch due schedules", "error", err)
	} else {
		result.Due = len(due)
		span.SetAttributes(attribute.Int(otelhelper.DueCountKey, len(due)))

		result.Dispatched, result.Failed = w.fanOut(ctx, due)
	}

	expired, err := w.schedules.ExpireSchedules(ctx)
	if err != nil {
		otelhelper.SetError(span, err)
		w.logger.ErrorContext(ctx, "failed to expire schedules", "error", err)
	}

	result.Expired = expired

	return result
}

// fanOut dispatches every schedule concurrently. Each dispatch settles on its
// own; a failure never cancels its siblings.
func (w *Worker) fanOut(ctx context.Context, due []*models.Schedule) (int, int) {
	var dispatched, failed atomic.Int64

	g := &errgroup.Group{}
	g.SetLimit(w.config.MaxConcurrentRuns)

	for _, schedule := range due {
		g.Go(func() error {
			if _, err := w.dispatch(ctx, schedule); err != nil {
				failed.Add(1)
			} else {
				dispatched.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	if len(due) > 0 {
		w.logger.InfoContext(ctx, "scan cycle dispatched schedules",
			"due", len(due),
			"dispatched", dispatched.Load(),
			"failed", failed.Load())
	}

	return int(dispatched.Load()), int(failed.Load())
}

// TriggerSchedule dispatches an enabled schedule right away, regardless of its
// next run time.
func (w *Worker) TriggerSchedule(ctx context.Context, id string) (*models.Run, error) {
	schedule, err := w.schedules.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if schedule.Status != models.ScheduleStatusEnabled || schedule.DeletedAt != nil {
		return nil, services.NewScheduleNotEnabledError("TriggerSchedule", schedule.ID, schedule.Status)
	}

	w.logger.InfoContext(ctx, "manually triggering schedule", "schedule_id", schedule.ID)

	return w.dispatch(ctx, schedule)
}

// dispatch creates a run for schedule and records the dispatch. When any step
// fails the schedule is advanced anyway so it does not stay due.
func (w *Worker) dispatch(ctx context.Context, schedule *models.Schedule) (*models.Run, error) {
	w.inFlight.Add(1)
	defer w.inFlight.Add(-1)

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "scheduler.dispatch",
		attribute.String(otelhelper.ScheduleIDKey, schedule.ID),
		attribute.String(otelhelper.ScheduleTypeKey, string(schedule.ScheduleType)),
		attribute.String(otelhelper.WorkflowIDKey, schedule.WorkflowID))
	defer span.End()

	dispatchedAt := w.clock.Now().UTC()
	scheduleID := schedule.ID

	run, err := w.runs.CreateRun(ctx, &services.CreateRunRequest{
		WorkflowID: schedule.WorkflowID,
		Inputs:     schedule.Inputs,
		ScheduleID: &scheduleID,
	})
	if err != nil {
		err = fmt.Errorf("failed to create run for schedule %s: %w", schedule.ID, err)
		w.fail(ctx, span, schedule, "create_run", err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	updated, err := w.schedules.MarkScheduleDispatched(ctx, schedule.ID, dispatchedAt)
	if err != nil {
		err = fmt.Errorf("failed to record dispatch of schedule %s: %w", schedule.ID, err)
		w.fail(ctx, span, schedule, "bookkeeping", err)

		return run, err
	}

	// A dispatch counts once the schedule recorded it, like CycleResult.
	w.dispatched.Add(1)
	w.metrics.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("schedule_type", string(schedule.ScheduleType))))

	w.logger.InfoContext(ctx, "schedule dispatched",
		"schedule_id", schedule.ID,
		"run_id", run.ID,
		"status", updated.Status,
		"next_run_at", updated.NextRunAt)

	return run, nil
}

func (w *Worker) fail(ctx context.Context, span trace.Span, schedule *models.Schedule, stage string, err error) {
	w.failed.Add(1)
	w.metrics.dispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))

	otelhelper.SetError(span, err, attribute.String("stage", stage))
	w.logger.ErrorContext(ctx, "schedule dispatch failed", "schedule_id", schedule.ID, "stage", stage, "error", err)

	if _, fallbackErr := w.schedules.UpdateScheduleAfterRun(ctx, schedule); fallbackErr != nil {
		w.logger.ErrorContext(ctx, "failed to advance schedule after dispatch failure",
			"schedule_id", schedule.ID,
			"error", fallbackErr)
	}
}

func (w *Worker) holdsLease(ctx context.Context) bool {
	if w.locker == nil {
		return true
	}

	acquired, err := w.locker.Acquire(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to acquire scheduler lease", "error", err)

		return false
	}

	if !acquired {
		w.logger.DebugContext(ctx, "scheduler lease held by another instance")
	}

	return acquired
}

func (w *Worker) recordCycle(ctx context.Context, startedAt time.Time, result CycleResult) {
	if result.Skipped {
		return
	}

	w.cycles.Add(1)
	w.metrics.cycleDuration.Record(ctx, float64(result.Duration.Microseconds())/1000)

	at := startedAt.UTC()

	w.statsMu.Lock()
	w.lastCycleAt = &at
	w.lastCycleDuration = result.Duration
	w.statsMu.Unlock()

	w.logger.DebugContext(ctx, "scan cycle finished",
		"due", result.Due,
		"dispatched", result.Dispatched,
		"failed", result.Failed,
		"expired", result.Expired,
		"duration", result.Duration)
}

// Status returns a snapshot of the worker counters and last cycle.
func (w *Worker) Status() Status {
	w.statsMu.RLock()
	lastCycleAt := w.lastCycleAt
	lastCycleDuration := w.lastCycleDuration
	w.statsMu.RUnlock()

	return Status{
		ID:                w.config.ID,
		Running:           w.IsRunning(),
		Scanning:          w.scanning.Load(),
		InFlight:          w.inFlight.Load(),
		Cycles:            w.cycles.Load(),
		SkippedCycles:     w.skippedCycles.Load(),
		Dispatched:        w.dispatched.Load(),
		Failed:            w.failed.Load(),
		LastCycleAt:       lastCycleAt,
		LastCycleDuration: lastCycleDuration,
		ScanInterval:      w.config.ScanInterval,
		MaxConcurrentRuns: w.config.MaxConcurrentRuns,
	}
}
