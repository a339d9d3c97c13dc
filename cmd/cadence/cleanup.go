package main

import (
	"context"

	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/cadence/pkg/cmd"
	"github.com/dukex/cadence/pkg/log"
	"github.com/dukex/cadence/pkg/services"
)

const defaultDaysToKeep = 30

func CleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete completed, failed and cancelled runs older than the retention window",
		Flags: []cli.Flag{
			databaseURLFlag(),
			&cli.IntFlag{
				Name:    "days",
				Usage:   "Number of days of terminal runs to keep",
				Value:   defaultDaysToKeep,
				Sources: cli.EnvVars("RUN_RETENTION_DAYS"),
			},
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("cleanup")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			runService := services.NewRun(persistence, nil, clockwork.NewRealClock(), logger)

			deleted, err := runService.CleanupOldRuns(ctx, command.Int("days"))
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Old runs deleted", "count", deleted, "days_to_keep", command.Int("days"))

			return nil
		},
	}
}
