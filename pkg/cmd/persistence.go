// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/cadence/pkg/persistence"
	"github.com/dukex/cadence/pkg/persistence/file"
	"github.com/dukex/cadence/pkg/persistence/postgresql"
)

// ErrUnsupportedDatabase is returned when the database URL scheme is unknown.
var ErrUnsupportedDatabase = errors.New("unsupported database url")

// NewPersistence opens the store named by databaseURL: file://<dir> or
// postgres://... (postgresql:// is accepted too).
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return p, nil
	case "file":
		p, err := file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
		if err != nil {
			return nil, err
		}

		return p, nil
	default:
		return nil, fmt.Errorf("%w %q: expected file:// or postgres://", ErrUnsupportedDatabase, databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
