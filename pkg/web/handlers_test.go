package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/cadence/pkg/log"
	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/persistence/file"
	"github.com/dukex/cadence/pkg/services"
	"github.com/dukex/cadence/pkg/web"
	"github.com/dukex/cadence/pkg/worker"
)

var testNow = time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC)

type testApp struct {
	app    *fiber.App
	worker *worker.Worker
	clock  *clockwork.FakeClock
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	persistence, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(testNow)
	logger := log.Discard()

	workflowService := services.NewWorkflow(persistence, clock)
	scheduleService := services.NewSchedule(persistence, clock, logger)
	runService := services.NewRun(persistence, nil, clock, logger)

	w, err := worker.New(worker.DefaultConfig(), scheduleService, runService, clock, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handlers := web.NewAPIHandlers(ctx, workflowService, scheduleService, runService, w,
		validator.New(validator.WithRequiredStructEnabled()), clock)

	app := fiber.New()
	handlers.Register(app)

	return &testApp{app: app, worker: w, clock: clock}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func (a *testApp) registerWorkflow(t *testing.T) {
	t.Helper()

	status, _ := a.do(t, http.MethodPut, "/workflows/wf-report", web.RegisterWorkflowRequest{
		Name:            "Nightly report",
		DefaultInputs:   map[string]any{"format": "pdf"},
		GraphDefinition: map[string]any{"nodes": []any{"render"}},
	})
	require.Equal(t, http.StatusOK, status)
}

func (a *testApp) createSchedule(t *testing.T, req services.CreateScheduleRequest) *models.Schedule {
	t.Helper()

	status, body := a.do(t, http.MethodPost, "/schedules", req)
	require.Equal(t, http.StatusCreated, status, string(body))

	var schedule models.Schedule
	require.NoError(t, json.Unmarshal(body, &schedule))

	return &schedule
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(body, &v))

	return v
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	return decode[map[string]any](t, body)["type"].(string)
}

func stringPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)

	status, body := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", decode[map[string]any](t, body)["status"])
}

func TestAPIHandlers_Workflows(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.registerWorkflow(t)

	status, body := a.do(t, http.MethodGet, "/workflows/wf-report", nil)
	require.Equal(t, http.StatusOK, status)

	workflow := decode[models.Workflow](t, body)
	assert.Equal(t, "Nightly report", workflow.Name)
	assert.Equal(t, "pdf", workflow.DefaultInputs["format"])

	status, body = a.do(t, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", problemType(t, body))

	status, _ = a.do(t, http.MethodPut, "/workflows/wf-bad", web.RegisterWorkflowRequest{Name: "NR"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, http.MethodPut, "/workflows/wf-bad", "invalid-json")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_CreateSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		request        any
		expectedStatus int
		expectedType   string
	}{
		{
			name: "cron schedule",
			request: services.CreateScheduleRequest{
				WorkflowID:     "wf-report",
				Name:           "every five minutes",
				ScheduleType:   models.ScheduleTypeCron,
				CronExpression: stringPtr("*/5 * * * *"),
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "unparseable cron",
			request: services.CreateScheduleRequest{
				WorkflowID:     "wf-report",
				Name:           "broken",
				ScheduleType:   models.ScheduleTypeCron,
				CronExpression: stringPtr("every day"),
			},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "interval without seconds",
			request: services.CreateScheduleRequest{
				WorkflowID:   "wf-report",
				Name:         "broken",
				ScheduleType: models.ScheduleTypeInterval,
			},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "unknown workflow",
			request: services.CreateScheduleRequest{
				WorkflowID:   "wf-missing",
				Name:         "manual",
				ScheduleType: models.ScheduleTypeManual,
			},
			expectedStatus: http.StatusNotFound,
			expectedType:   "workflow_not_found",
		},
		{
			name:           "invalid JSON",
			request:        "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := setupTestApp(t)
			a.registerWorkflow(t)

			status, body := a.do(t, http.MethodPost, "/schedules", tt.request)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, problemType(t, body))
			}
		})
	}
}

func TestAPIHandlers_ScheduleLifecycle(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.registerWorkflow(t)

	schedule := a.createSchedule(t, services.CreateScheduleRequest{
		WorkflowID:      "wf-report",
		Name:            "every minute",
		ScheduleType:    models.ScheduleTypeInterval,
		IntervalSeconds: intPtr(60),
	})
	assert.Equal(t, models.ScheduleStatusEnabled, schedule.Status)

	status, body := a.do(t, http.MethodPatch, "/schedules/"+schedule.ID, services.UpdateScheduleRequest{IntervalSeconds: intPtr(120)})
	require.Equal(t, http.StatusOK, status, string(body))

	updated := decode[models.Schedule](t, body)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, testNow.Add(120*time.Second), updated.NextRunAt.UTC())

	status, body = a.do(t, http.MethodPost, "/schedules/"+schedule.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, status)

	disabled := decode[models.Schedule](t, body)
	assert.Equal(t, models.ScheduleStatusDisabled, disabled.Status)
	assert.Nil(t, disabled.NextRunAt)

	status, body = a.do(t, http.MethodPost, "/schedules/"+schedule.ID+"/trigger", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", problemType(t, body))

	status, body = a.do(t, http.MethodPost, "/schedules/"+schedule.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.ScheduleStatusEnabled, decode[models.Schedule](t, body).Status)

	status, body = a.do(t, http.MethodPost, "/schedules/"+schedule.ID+"/trigger", nil)
	require.Equal(t, http.StatusCreated, status, string(body))

	run := decode[models.Run](t, body)
	require.NotNil(t, run.ScheduleID)
	assert.Equal(t, schedule.ID, *run.ScheduleID)

	status, body = a.do(t, http.MethodGet, "/schedules?workflow_id=wf-report&status=enabled", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, decode[map[string]any](t, body)["total_count"], 0)

	status, _ = a.do(t, http.MethodGet, "/schedules?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, http.MethodDelete, "/schedules/"+schedule.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = a.do(t, http.MethodGet, "/schedules/"+schedule.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "schedule_not_found", problemType(t, body))
}

func TestAPIHandlers_RunLifecycle(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)
	a.registerWorkflow(t)

	status, body := a.do(t, http.MethodPost, "/workflows/wf-report/runs", web.CreateRunRequest{Inputs: map[string]any{"format": "csv"}})
	require.Equal(t, http.StatusCreated, status, string(body))

	run := decode[models.Run](t, body)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, "csv", run.Inputs["format"])
	assert.Nil(t, run.ScheduleID)

	status, body = a.do(t, http.MethodPost, "/runs/"+run.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RunStatusRunning, decode[models.Run](t, body).Status)

	a.clock.Advance(2 * time.Second)

	status, body = a.do(t, http.MethodPost, "/runs/"+run.ID+"/complete", services.RunResult{
		Success: false,
		Error:   &models.RunError{Message: "render failed", NodeID: "render"},
	})
	require.Equal(t, http.StatusOK, status)

	failed := decode[models.Run](t, body)
	assert.Equal(t, models.RunStatusFailed, failed.Status)
	require.NotNil(t, failed.DurationMs)
	assert.Equal(t, int64(2000), *failed.DurationMs)
	assert.Equal(t, "render", failed.Error.NodeID)

	status, body = a.do(t, http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", problemType(t, body))

	status, body = a.do(t, http.MethodGet, "/workflows/wf-report/runs?status=failed&page_size=10", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[services.ListRunsResponse](t, body)
	assert.Equal(t, int64(1), list.TotalCount)
	assert.Equal(t, 10, list.PageSize)

	status, _ = a.do(t, http.MethodGet, "/workflows/wf-report/runs?start_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(t, http.MethodGet, "/workflows/wf-report/runs?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodDelete, "/runs", web.DeleteRunsRequest{IDs: []string{run.ID, "missing"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), decode[web.CountResponse](t, body).Count)

	status, body = a.do(t, http.MethodGet, "/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "run_not_found", problemType(t, body))
}

func TestAPIHandlers_CreateRun_UnknownWorkflow(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)

	status, body := a.do(t, http.MethodPost, "/workflows/wf-missing/runs", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", problemType(t, body))
}

func TestAPIHandlers_CleanupRuns(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)

	status, _ := a.do(t, http.MethodPost, "/runs/cleanup", web.CleanupRunsRequest{DaysToKeep: 0})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := a.do(t, http.MethodPost, "/runs/cleanup", web.CleanupRunsRequest{DaysToKeep: 30})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(0), decode[web.CountResponse](t, body).Count)
}

func TestAPIHandlers_Worker(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t)

	status, body := a.do(t, http.MethodGet, "/worker/status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[worker.Status](t, body).Running)

	status, body = a.do(t, http.MethodPost, "/worker/start", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[worker.Status](t, body).Running)

	status, body = a.do(t, http.MethodPost, "/worker/start", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[worker.Status](t, body).Running)

	status, body = a.do(t, http.MethodPost, "/worker/stop", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[worker.Status](t, body).Running)
	assert.False(t, a.worker.IsRunning())
}
