package file_test

import (
	"testing"
	"time"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
	"github.com/dukex/cadence/pkg/persistence/file"
	"github.com/dukex/cadence/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun(id string, status models.RunStatus, createdAt time.Time) *models.Run {
	return testutil.CreateTestRun(
		testutil.WithRunID(id),
		testutil.WithRunStatus(status),
		testutil.WithCreatedAt(createdAt),
	)
}

func TestRunRepository_ListByWorkflow(t *testing.T) {
	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	repo := p.Runs()
	ctx := t.Context()

	for i := range 5 {
		status := models.RunStatusSuccess
		if i%2 == 1 {
			status = models.RunStatusFailed
		}

		id := string(rune('a' + i))
		require.NoError(t, repo.Save(ctx, newRun(id, status, baseTime.Add(time.Duration(i)*time.Hour))))
	}

	otherWorkflow := newRun("z", models.RunStatusSuccess, baseTime)
	otherWorkflow.WorkflowID = "wf-2"
	require.NoError(t, repo.Save(ctx, otherWorkflow))

	t.Run("paginates newest first", func(t *testing.T) {
		result, err := repo.ListByWorkflow(ctx, "wf-1", persistence.ListRunsOptions{Page: 2, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), result.TotalCount)
		require.Len(t, result.Runs, 2)
		assert.Equal(t, "c", result.Runs[0].ID)
		assert.Equal(t, "b", result.Runs[1].ID)
	})

	t.Run("filters by status", func(t *testing.T) {
		failed := models.RunStatusFailed
		result, err := repo.ListByWorkflow(ctx, "wf-1", persistence.ListRunsOptions{Status: &failed})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.TotalCount)
	})

	t.Run("filters by date range", func(t *testing.T) {
		start := baseTime.Add(time.Hour)
		end := baseTime.Add(3 * time.Hour)
		result, err := repo.ListByWorkflow(ctx, "wf-1", persistence.ListRunsOptions{StartDate: &start, EndDate: &end})
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.TotalCount)
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		result, err := repo.ListByWorkflow(ctx, "wf-1", persistence.ListRunsOptions{Page: 10, PageSize: 20})
		require.NoError(t, err)
		assert.Empty(t, result.Runs)
		assert.Equal(t, int64(5), result.TotalCount)
	})
}

func TestRunRepository_DeleteTerminalBefore(t *testing.T) {
	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	repo := p.Runs()
	ctx := t.Context()
	old := baseTime.Add(-90 * 24 * time.Hour)

	require.NoError(t, repo.Save(ctx, newRun("old-success", models.RunStatusSuccess, old)))
	require.NoError(t, repo.Save(ctx, newRun("old-failed", models.RunStatusFailed, old)))
	require.NoError(t, repo.Save(ctx, newRun("old-cancelled", models.RunStatusCancelled, old)))
	require.NoError(t, repo.Save(ctx, newRun("old-running", models.RunStatusRunning, old)))
	require.NoError(t, repo.Save(ctx, newRun("old-pending", models.RunStatusPending, old)))
	require.NoError(t, repo.Save(ctx, newRun("recent-success", models.RunStatusSuccess, baseTime)))

	deleted, err := repo.DeleteTerminalBefore(ctx, baseTime.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	for _, id := range []string{"old-running", "old-pending", "recent-success"} {
		_, err := repo.GetByID(ctx, id)
		assert.NoError(t, err, id)
	}

	_, err = repo.GetByID(ctx, "old-success")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestRunRepository_DeleteByIDs(t *testing.T) {
	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	repo := p.Runs()
	ctx := t.Context()

	require.NoError(t, repo.Save(ctx, newRun("a", models.RunStatusPending, baseTime)))
	require.NoError(t, repo.Save(ctx, newRun("b", models.RunStatusSuccess, baseTime)))

	deleted, err := repo.DeleteByIDs(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
