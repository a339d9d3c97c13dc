package services

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/cadence/pkg/log"
	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence"
	"github.com/dukex/cadence/pkg/persistence/file"
)

var testNow = time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC)

type fixture struct {
	persistence persistence.Persistence
	clock       *clockwork.FakeClock
	schedules   *Schedule
	runs        *Run
	workflow    *models.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(testNow)
	logger := log.Discard()

	workflow := &models.Workflow{
		ID:              "wf-report",
		Name:            "Nightly report",
		DefaultInputs:   map[string]any{"format": "pdf", "region": "us"},
		GraphDefinition: map[string]any{"nodes": []any{map[string]any{"id": "render"}}},
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
	require.NoError(t, p.Workflows().Save(t.Context(), workflow))

	return &fixture{
		persistence: p,
		clock:       clock,
		schedules:   NewSchedule(p, clock, logger),
		runs:        NewRun(p, nil, clock, logger),
		workflow:    workflow,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestSchedule_CreateSchedule(t *testing.T) {
	tests := []struct {
		name           string
		req            CreateScheduleRequest
		expectedStatus models.ScheduleStatus
		expectedNext   *time.Time
	}{
		{
			name:           "cron fires at the next slot",
			req:            CreateScheduleRequest{ScheduleType: models.ScheduleTypeCron, CronExpression: ptr("*/5 * * * *")},
			expectedStatus: models.ScheduleStatusEnabled,
			expectedNext:   ptr(time.Date(2026, 3, 14, 10, 10, 0, 0, time.UTC)),
		},
		{
			name:           "cron evaluated in the schedule timezone",
			req:            CreateScheduleRequest{ScheduleType: models.ScheduleTypeCron, CronExpression: ptr("0 12 * * *"), Timezone: "America/New_York"},
			expectedStatus: models.ScheduleStatusEnabled,
			expectedNext:   ptr(time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)),
		},
		{
			name:           "interval counts from now",
			req:            CreateScheduleRequest{ScheduleType: models.ScheduleTypeInterval, IntervalSeconds: ptr(60)},
			expectedStatus: models.ScheduleStatusEnabled,
			expectedNext:   ptr(testNow.Add(time.Minute)),
		},
		{
			name:           "once in the past fires immediately",
			req:            CreateScheduleRequest{ScheduleType: models.ScheduleTypeOnce, StartTime: ptr(testNow.Add(-time.Hour))},
			expectedStatus: models.ScheduleStatusEnabled,
			expectedNext:   ptr(testNow),
		},
		{
			name:           "once in the future fires at start",
			req:            CreateScheduleRequest{ScheduleType: models.ScheduleTypeOnce, StartTime: ptr(testNow.Add(time.Hour))},
			expectedStatus: models.ScheduleStatusEnabled,
			expectedNext:   ptr(testNow.Add(time.Hour)),
		},
		{
			name:           "manual never fires",
			req:            CreateScheduleRequest{ScheduleType: models.ScheduleTypeManual},
			expectedStatus: models.ScheduleStatusEnabled,
		},
		{
			name: "first run beyond the window expires the schedule",
			req: CreateScheduleRequest{
				ScheduleType:    models.ScheduleTypeInterval,
				IntervalSeconds: ptr(60),
				EndTime:         ptr(testNow.Add(30 * time.Second)),
			},
			expectedStatus: models.ScheduleStatusExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			req := tt.req
			req.WorkflowID = f.workflow.ID
			req.Name = tt.name

			schedule, err := f.schedules.CreateSchedule(t.Context(), &req)
			require.NoError(t, err)

			assert.NotEmpty(t, schedule.ID)
			assert.Equal(t, tt.expectedStatus, schedule.Status)
			assert.Equal(t, testNow, schedule.CreatedAt)

			if tt.expectedNext == nil {
				assert.Nil(t, schedule.NextRunAt)
			} else {
				require.NotNil(t, schedule.NextRunAt)
				assert.True(t, tt.expectedNext.Equal(*schedule.NextRunAt), "expected %s, got %s", tt.expectedNext, schedule.NextRunAt)
			}

			stored, err := f.schedules.FetchByID(t.Context(), schedule.ID)
			require.NoError(t, err)
			assert.Equal(t, schedule.Status, stored.Status)
		})
	}
}

func TestSchedule_CreateSchedule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  CreateScheduleRequest
	}{
		{"missing name", CreateScheduleRequest{ScheduleType: models.ScheduleTypeManual}},
		{"unknown type", CreateScheduleRequest{Name: "x", ScheduleType: "hourly"}},
		{"cron without expression", CreateScheduleRequest{Name: "x", ScheduleType: models.ScheduleTypeCron}},
		{"unparseable cron", CreateScheduleRequest{Name: "x", ScheduleType: models.ScheduleTypeCron, CronExpression: ptr("every day")}},
		{"unknown timezone", CreateScheduleRequest{Name: "x", ScheduleType: models.ScheduleTypeCron, CronExpression: ptr("0 * * * *"), Timezone: "Mars/Olympus"}},
		{"interval missing", CreateScheduleRequest{Name: "x", ScheduleType: models.ScheduleTypeInterval}},
		{"interval zero", CreateScheduleRequest{Name: "x", ScheduleType: models.ScheduleTypeInterval, IntervalSeconds: ptr(0)}},
		{"interval negative", CreateScheduleRequest{Name: "x", ScheduleType: models.ScheduleTypeInterval, IntervalSeconds: ptr(-5)}},
		{"once without start", CreateScheduleRequest{Name: "x", ScheduleType: models.ScheduleTypeOnce}},
		{
			"end not after start",
			CreateScheduleRequest{
				Name:         "x",
				ScheduleType: models.ScheduleTypeManual,
				StartTime:    ptr(testNow),
				EndTime:      ptr(testNow),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			req := tt.req
			req.WorkflowID = f.workflow.ID

			_, err := f.schedules.CreateSchedule(t.Context(), &req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidScheduleDefinition)
			assert.True(t, IsValidationError(err))

			var serviceErr *ServiceError
			require.ErrorAs(t, err, &serviceErr)
			assert.NotEmpty(t, serviceErr.Message)

			result, err := f.schedules.ListSchedules(t.Context(), ListSchedulesRequest{})
			require.NoError(t, err)
			assert.Zero(t, result.TotalCount)
		})
	}
}

func TestSchedule_CreateSchedule_WorkflowNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
		WorkflowID:   "missing",
		Name:         "orphan",
		ScheduleType: models.ScheduleTypeManual,
	})
	require.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestSchedule_UpdateSchedule(t *testing.T) {
	t.Run("recurrence change recomputes next run", func(t *testing.T) {
		f := newFixture(t)
		schedule := createCron(t, f, "*/5 * * * *")

		updated, err := f.schedules.UpdateSchedule(t.Context(), schedule.ID, &UpdateScheduleRequest{
			CronExpression: ptr("0 * * * *"),
		})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC), *updated.NextRunAt)
	})

	t.Run("cosmetic change keeps next run", func(t *testing.T) {
		f := newFixture(t)
		schedule := createCron(t, f, "*/5 * * * *")

		f.clock.Advance(time.Minute)

		updated, err := f.schedules.UpdateSchedule(t.Context(), schedule.ID, &UpdateScheduleRequest{
			Name:   ptr("renamed"),
			Inputs: map[string]any{"region": "eu"},
		})
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Name)
		assert.Equal(t, *schedule.NextRunAt, *updated.NextRunAt)
		assert.Equal(t, testNow.Add(time.Minute), updated.UpdatedAt)
	})

	t.Run("expired schedule with a widened window is enabled again", func(t *testing.T) {
		f := newFixture(t)

		schedule, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
			WorkflowID:      f.workflow.ID,
			Name:            "short window",
			ScheduleType:    models.ScheduleTypeInterval,
			IntervalSeconds: ptr(60),
			EndTime:         ptr(testNow.Add(30 * time.Second)),
		})
		require.NoError(t, err)
		require.Equal(t, models.ScheduleStatusExpired, schedule.Status)

		updated, err := f.schedules.UpdateSchedule(t.Context(), schedule.ID, &UpdateScheduleRequest{
			EndTime: ptr(testNow.Add(time.Hour)),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleStatusEnabled, updated.Status)
		assert.Equal(t, testNow.Add(time.Minute), *updated.NextRunAt)
	})

	t.Run("disabled schedule stays disabled", func(t *testing.T) {
		f := newFixture(t)
		schedule := createCron(t, f, "*/5 * * * *")

		_, err := f.schedules.DisableSchedule(t.Context(), schedule.ID)
		require.NoError(t, err)

		updated, err := f.schedules.UpdateSchedule(t.Context(), schedule.ID, &UpdateScheduleRequest{
			CronExpression: ptr("0 * * * *"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleStatusDisabled, updated.Status)
		assert.Nil(t, updated.NextRunAt)
	})

	t.Run("invalid patch is rejected", func(t *testing.T) {
		f := newFixture(t)
		schedule := createCron(t, f, "*/5 * * * *")

		_, err := f.schedules.UpdateSchedule(t.Context(), schedule.ID, &UpdateScheduleRequest{
			CronExpression: ptr("not a cron"),
		})
		assert.ErrorIs(t, err, ErrInvalidScheduleDefinition)

		stored, err := f.schedules.FetchByID(t.Context(), schedule.ID)
		require.NoError(t, err)
		assert.Equal(t, "*/5 * * * *", *stored.CronExpression)
	})

	t.Run("unknown schedule", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.schedules.UpdateSchedule(t.Context(), "missing", &UpdateScheduleRequest{Name: ptr("x")})
		assert.ErrorIs(t, err, ErrScheduleNotFound)
	})
}

func TestSchedule_EnableDisable(t *testing.T) {
	f := newFixture(t)
	schedule := createCron(t, f, "*/5 * * * *")

	disabled, err := f.schedules.DisableSchedule(t.Context(), schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusDisabled, disabled.Status)
	assert.Nil(t, disabled.NextRunAt)

	f.clock.Advance(10 * time.Minute)

	enabled, err := f.schedules.EnableSchedule(t.Context(), schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusEnabled, enabled.Status)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 20, 0, 0, time.UTC), *enabled.NextRunAt)

	f.clock.Advance(time.Minute)

	again, err := f.schedules.EnableSchedule(t.Context(), schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, enabled.UpdatedAt, again.UpdatedAt, "enabling an enabled schedule is a no-op")
	assert.Equal(t, *enabled.NextRunAt, *again.NextRunAt)
}

func TestSchedule_DeleteSchedule(t *testing.T) {
	f := newFixture(t)
	schedule := createCron(t, f, "*/5 * * * *")

	require.NoError(t, f.schedules.DeleteSchedule(t.Context(), schedule.ID))

	_, err := f.schedules.FetchByID(t.Context(), schedule.ID)
	require.ErrorIs(t, err, ErrScheduleNotFound)

	f.clock.Advance(time.Hour)

	due, err := f.schedules.GetSchedulesToRun(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	assert.ErrorIs(t, f.schedules.DeleteSchedule(t.Context(), schedule.ID), ErrScheduleNotFound)
}

func TestSchedule_GetSchedulesToRun(t *testing.T) {
	f := newFixture(t)

	var created []*models.Schedule

	for i := range 4 {
		schedule, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
			WorkflowID:   f.workflow.ID,
			Name:         "once",
			ScheduleType: models.ScheduleTypeOnce,
			StartTime:    ptr(testNow.Add(time.Duration(4-i) * time.Minute)),
		})
		require.NoError(t, err)

		created = append(created, schedule)
	}

	due, err := f.schedules.GetSchedulesToRun(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	f.clock.Advance(3 * time.Minute)

	due, err = f.schedules.GetSchedulesToRun(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, created[3].ID, due[0].ID)
	assert.Equal(t, created[2].ID, due[1].ID)
}

func TestSchedule_UpdateScheduleAfterRun(t *testing.T) {
	t.Run("expires when the next run exceeds the end time", func(t *testing.T) {
		f := newFixture(t)

		schedule, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
			WorkflowID:     f.workflow.ID,
			Name:           "cron until noon",
			ScheduleType:   models.ScheduleTypeCron,
			CronExpression: ptr("0 * * * *"),
			EndTime:        ptr(time.Date(2026, 3, 14, 11, 30, 0, 0, time.UTC)),
		})
		require.NoError(t, err)
		require.Equal(t, models.ScheduleStatusEnabled, schedule.Status)

		f.clock.Advance(time.Hour)

		updated, err := f.schedules.UpdateScheduleAfterRun(t.Context(), schedule)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleStatusExpired, updated.Status)
		assert.Nil(t, updated.NextRunAt)
		assert.Nil(t, updated.LastRunAt)
	})

	t.Run("advances a stale due time", func(t *testing.T) {
		f := newFixture(t)
		schedule := createCron(t, f, "*/5 * * * *")

		f.clock.Advance(20 * time.Minute)

		updated, err := f.schedules.UpdateScheduleAfterRun(t.Context(), schedule)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC), *updated.NextRunAt)
	})
}

func TestSchedule_MarkScheduleDispatched(t *testing.T) {
	t.Run("once schedules are exhausted", func(t *testing.T) {
		f := newFixture(t)

		schedule, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
			WorkflowID:   f.workflow.ID,
			Name:         "one shot",
			ScheduleType: models.ScheduleTypeOnce,
			StartTime:    ptr(testNow),
		})
		require.NoError(t, err)

		updated, err := f.schedules.MarkScheduleDispatched(t.Context(), schedule.ID, testNow)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleStatusExpired, updated.Status)
		assert.Nil(t, updated.NextRunAt)
		assert.Equal(t, testNow, *updated.LastRunAt)
	})

	t.Run("interval schedules are measured from the dispatch", func(t *testing.T) {
		f := newFixture(t)

		schedule, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
			WorkflowID:      f.workflow.ID,
			Name:            "every minute",
			ScheduleType:    models.ScheduleTypeInterval,
			IntervalSeconds: ptr(60),
			StartTime:       ptr(testNow.Add(-time.Hour)),
		})
		require.NoError(t, err)

		f.clock.Advance(5 * time.Second)

		updated, err := f.schedules.MarkScheduleDispatched(t.Context(), schedule.ID, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, models.ScheduleStatusEnabled, updated.Status)
		assert.Equal(t, testNow.Add(65*time.Second), *updated.NextRunAt)
		assert.Equal(t, testNow.Add(5*time.Second), *updated.LastRunAt)
	})

	t.Run("unknown schedule rolls back", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.schedules.MarkScheduleDispatched(t.Context(), "missing", testNow)
		assert.ErrorIs(t, err, ErrScheduleNotFound)
	})
}

func TestSchedule_ExpireSchedules(t *testing.T) {
	f := newFixture(t)

	schedule, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
		WorkflowID:   f.workflow.ID,
		Name:         "manual with window",
		ScheduleType: models.ScheduleTypeManual,
		EndTime:      ptr(testNow.Add(time.Minute)),
	})
	require.NoError(t, err)

	count, err := f.schedules.ExpireSchedules(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)

	f.clock.Advance(time.Minute)

	count, err = f.schedules.ExpireSchedules(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stored, err := f.schedules.FetchByID(t.Context(), schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusExpired, stored.Status)
}

func TestSchedule_ListSchedules(t *testing.T) {
	f := newFixture(t)

	createCron(t, f, "*/5 * * * *")

	second := createCron(t, f, "0 * * * *")
	_, err := f.schedules.DisableSchedule(t.Context(), second.ID)
	require.NoError(t, err)

	disabled := models.ScheduleStatusDisabled
	result, err := f.schedules.ListSchedules(t.Context(), ListSchedulesRequest{Status: &disabled})
	require.NoError(t, err)
	require.Len(t, result.Schedules, 1)
	assert.Equal(t, second.ID, result.Schedules[0].ID)

	_, err = f.schedules.ListSchedules(t.Context(), ListSchedulesRequest{Limit: 500})
	assert.True(t, IsValidationError(err))

	bogus := models.ScheduleStatus("paused")
	_, err = f.schedules.ListSchedules(t.Context(), ListSchedulesRequest{Status: &bogus})
	assert.True(t, IsValidationError(err))
}

func createCron(t *testing.T, f *fixture, expression string) *models.Schedule {
	t.Helper()

	schedule, err := f.schedules.CreateSchedule(t.Context(), &CreateScheduleRequest{
		WorkflowID:     f.workflow.ID,
		Name:           "cron " + expression,
		ScheduleType:   models.ScheduleTypeCron,
		CronExpression: ptr(expression),
	})
	require.NoError(t, err)

	return schedule
}
