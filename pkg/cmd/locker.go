package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/cadence/pkg/lock"
)

// NewLocker returns the scheduler lease, or nil when redisURL is empty and the
// worker runs as the single active instance. The lease outlives three scan
// intervals so one slow cycle does not hand it over.
func NewLocker(ctx context.Context, redisURL string, scanInterval time.Duration, logger *slog.Logger) (lock.Locker, func() error, error) {
	if redisURL == "" {
		return nil, func() error { return nil }, nil
	}

	client, err := lock.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}

	lease, err := lock.NewRedisLease(client, lock.DefaultKey, 3*scanInterval, logger)
	if err != nil {
		_ = client.Close()

		return nil, nil, err
	}

	return lease, client.Close, nil
}
