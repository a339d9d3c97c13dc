package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/cadence/pkg/cmd"
	"github.com/dukex/cadence/pkg/log"
	"github.com/dukex/cadence/pkg/services"
)

const validatePageSize = 100

var ErrInvalidSchedules = errors.New("invalid schedules found")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Check the recurrence definition of every stored schedule",
		Flags: []cli.Flag{
			databaseURLFlag(),
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("validate")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			scheduleService := services.NewSchedule(persistence, clockwork.NewRealClock(), logger)

			_, _ = fmt.Fprintln(os.Stdout, "Schedule Validation Results:")
			_, _ = fmt.Fprintln(os.Stdout, "============================")

			valid, invalid := 0, 0

			for offset := 0; ; offset += validatePageSize {
				page, err := scheduleService.ListSchedules(ctx, services.ListSchedulesRequest{
					Limit:  validatePageSize,
					Offset: offset,
				})
				if err != nil {
					return fmt.Errorf("failed to fetch schedules: %w", err)
				}

				for _, schedule := range page.Schedules {
					if err := scheduleService.ValidateSchedule(schedule); err != nil {
						invalid++

						_, _ = fmt.Fprintf(os.Stdout, "✗ %s (%s, workflow %s): %v\n",
							schedule.ID, schedule.ScheduleType, schedule.WorkflowID, err)

						continue
					}

					valid++
				}

				if !page.HasNextPage {
					break
				}
			}

			_, _ = fmt.Fprintf(os.Stdout, "\nValid: %d, Invalid: %d\n", valid, invalid)

			if invalid > 0 {
				return fmt.Errorf("%w: %d", ErrInvalidSchedules, invalid)
			}

			return nil
		},
	}
}
