package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/cadence/pkg/cmd"
	"github.com/dukex/cadence/pkg/dispatch"
	"github.com/dukex/cadence/pkg/listener"
	"github.com/dukex/cadence/pkg/log"
	"github.com/dukex/cadence/pkg/otelhelper"
	"github.com/dukex/cadence/pkg/services"
	"github.com/dukex/cadence/pkg/web"
	"github.com/dukex/cadence/pkg/worker"
)

const defaultPort = 9091

func RunCommand() *cli.Command {
	defaults := worker.DefaultConfig()

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the scheduler worker, the run listener and the admin API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			databaseURLFlag(),
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers, required with --event-bus=kafka",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the scheduler lease; without it this instance assumes it is the only scheduler",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "worker-id",
				Usage:   "Identifier of this scheduler instance (defaults to the hostname)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.DurationFlag{
				Name:    "scan-interval",
				Usage:   "Time between scan cycles",
				Value:   defaults.ScanInterval,
				Sources: cli.EnvVars("SCAN_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-runs",
				Usage:   "Maximum number of schedules dispatched per scan cycle",
				Value:   defaults.MaxConcurrentRuns,
				Sources: cli.EnvVars("MAX_CONCURRENT_RUNS"),
			},
			&cli.BoolFlag{
				Name:    "paused",
				Usage:   "Start with the worker stopped; start it through the API",
				Sources: cli.EnvVars("WORKER_PAUSED"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP (configured with OTEL_EXPORTER_OTLP_* variables)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			logLevelFlag(),
		},
		Action: run,
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cadence")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerID := command.String("worker-id")
	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to resolve worker id: %w", err)
		}

		workerID = hostname
	}

	tracer, err := newTracer(ctx, command.Bool("tracing"), logger)
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	clock := clockwork.NewRealClock()
	dispatcher := dispatch.NewEventDispatcher(eventBus, eventBus, clock, workerID, logger)

	workflowService := services.NewWorkflow(persistence, clock)
	scheduleService := services.NewSchedule(persistence, clock, logger)
	runService := services.NewRun(persistence, dispatcher, clock, logger)

	if err := listener.New(runService, logger).Register(eventBus); err != nil {
		return err
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return err
	}

	locker, closeLocker, err := cmd.NewLocker(ctx, command.String("redis-url"), command.Duration("scan-interval"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeLocker(); err != nil {
			logger.ErrorContext(ctx, "Failed to close lease client", "error", err)
		}
	}()

	opts := []worker.Option{
		worker.WithTracer(tracer),
		worker.WithMeter(otel.Meter("cadence/scheduler")),
	}
	if locker != nil {
		opts = append(opts, worker.WithLocker(locker))
	}

	scheduler, err := worker.New(worker.Config{
		ID:                workerID,
		ScanInterval:      command.Duration("scan-interval"),
		MaxConcurrentRuns: command.Int("max-concurrent-runs"),
	}, scheduleService, runService, clock, logger, opts...)
	if err != nil {
		return err
	}

	if !command.Bool("paused") {
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}

	handlers := web.NewAPIHandlers(ctx, workflowService, scheduleService, runService, scheduler,
		validator.New(validator.WithRequiredStructEnabled()), clock)

	app := newApp(handlers)

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":" + strconv.Itoa(command.Int("port")))
	}()

	select {
	case err = <-errCh:
		logger.ErrorContext(ctx, "API server stopped", "error", err)
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if stopErr := scheduler.Stop(shutdownCtx); stopErr != nil {
		logger.ErrorContext(shutdownCtx, "Failed to stop scheduler", "error", stopErr)
	}

	if shutdownErr := app.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
		logger.ErrorContext(shutdownCtx, "Failed to shut down API server", "error", shutdownErr)
	}

	return err
}

func newApp(handlers *web.APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadence API")
	})

	handlers.Register(app)

	return app
}

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func newTracer(ctx context.Context, enabled bool, logger *slog.Logger) (trace.Tracer, error) {
	if !enabled {
		return otelhelper.NoopTracer(), nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "cadence")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	context.AfterFunc(ctx, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	})

	return tracer, nil
}
