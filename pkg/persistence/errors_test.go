package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/cadence/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		scheduleErr := persistence.NewStoreError("GetSchedule", "schedule-123", persistence.ErrScheduleNotFound)
		runErr := fmt.Errorf("loading run: %w", persistence.ErrRunNotFound)

		assert.True(t, persistence.IsScheduleNotFound(scheduleErr))
		assert.True(t, persistence.IsRunNotFound(runErr))
		assert.True(t, persistence.IsWorkflowNotFound(persistence.ErrWorkflowNotFound))
		assert.True(t, persistence.IsNotFound(scheduleErr))
		assert.False(t, persistence.IsNotFound(errors.New("connection reset")))

		assert.True(t, errors.Is(scheduleErr, persistence.ErrScheduleNotFound))
	})

	t.Run("store error contains context", func(t *testing.T) {
		err := persistence.NewStoreError("SaveRun", "run-123", errors.New("connection reset"))

		assert.Contains(t, err.Error(), "SaveRun")
		assert.Contains(t, err.Error(), "run-123")
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("store error without id", func(t *testing.T) {
		err := persistence.NewStoreError("DueSchedules", "", errors.New("timeout"))

		assert.Equal(t, "DueSchedules failed: timeout", err.Error())
	})
}
