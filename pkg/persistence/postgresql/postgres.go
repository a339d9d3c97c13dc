// Package postgresql provides PostgreSQL persistence for schedules, runs and workflows.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/cadence/pkg/persistence"
	"github.com/dukex/cadence/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // registers the postgres driver
)

// querier is the subset of *sql.DB and *sql.Tx the repositories need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger,
	}, nil
}

// Schedules returns the schedule repository.
func (p *Persistence) Schedules() persistence.ScheduleRepository {
	return &ScheduleRepository{db: p.db, logger: p.logger}
}

// Runs returns the run repository.
func (p *Persistence) Runs() persistence.RunRepository {
	return &RunRepository{db: p.db, logger: p.logger}
}

// Workflows returns the workflow repository.
func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return &WorkflowRepository{db: p.db}
}

// WithTransaction runs fn inside a database transaction. LockByID inside fn
// takes row locks held until commit or rollback.
func (p *Persistence) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Repositories) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(ctx, &transaction{tx: tx, logger: p.logger})
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			p.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type transaction struct {
	tx     *sql.Tx
	logger *slog.Logger
}

func (t *transaction) Schedules() persistence.ScheduleRepository {
	return &ScheduleRepository{db: t.tx, logger: t.logger}
}

func (t *transaction) Runs() persistence.RunRepository {
	return &RunRepository{db: t.tx, logger: t.logger}
}

func (t *transaction) Workflows() persistence.WorkflowRepository {
	return &WorkflowRepository{db: t.tx}
}

func marshalJSON(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}

	return data, nil
}

func unmarshalJSON(data []byte, into any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}

	return nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// nullableLimit maps a non-positive limit to NULL, which PostgreSQL reads as no limit.
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}

	return limit
}
