// Package web provides the administrative REST API of the scheduler.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/cadence/pkg/models"
	"github.com/dukex/cadence/pkg/services"
	"github.com/dukex/cadence/pkg/worker"
)

// Scheduler is the worker control surface exposed over HTTP.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() worker.Status
	TriggerSchedule(ctx context.Context, id string) (*models.Run, error)
}

type APIHandlers struct {
	// ctx outlives requests; the worker loop started over HTTP runs on it.
	ctx             context.Context
	workflowService *services.Workflow
	scheduleService *services.Schedule
	runService      *services.Run
	scheduler       Scheduler
	validator       *validator.Validate
	clock           clockwork.Clock
}

func NewAPIHandlers(
	ctx context.Context,
	workflowService *services.Workflow,
	scheduleService *services.Schedule,
	runService *services.Run,
	scheduler Scheduler,
	validator *validator.Validate,
	clock clockwork.Clock,
) *APIHandlers {
	return &APIHandlers{
		ctx:             ctx,
		workflowService: workflowService,
		scheduleService: scheduleService,
		runService:      runService,
		scheduler:       scheduler,
		validator:       validator,
		clock:           clock,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	w := router.Group("/workflows")
	w.Put("/:id", h.RegisterWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/:id/runs", h.CreateRun)
	w.Get("/:id/runs", h.ListRuns)

	s := router.Group("/schedules")
	s.Get("/", h.ListSchedules)
	s.Post("/", h.CreateSchedule)
	s.Get("/:id", h.GetSchedule)
	s.Patch("/:id", h.UpdateSchedule)
	s.Delete("/:id", h.DeleteSchedule)
	s.Post("/:id/enable", h.EnableSchedule)
	s.Post("/:id/disable", h.DisableSchedule)
	s.Post("/:id/trigger", h.TriggerSchedule)

	r := router.Group("/runs")
	r.Delete("/", h.DeleteRuns)
	r.Post("/cleanup", h.CleanupRuns)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/start", h.StartRun)
	r.Post("/:id/complete", h.CompleteRun)
	r.Post("/:id/cancel", h.CancelRun)

	wk := router.Group("/worker")
	wk.Get("/status", h.WorkerStatus)
	wk.Post("/start", h.StartWorker)
	wk.Post("/stop", h.StopWorker)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())
	status := h.scheduler.Status()

	state := "unhealthy"
	message := "Cadence API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		state = "healthy"
		message = "Cadence API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  state,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"worker":     status.Running,
		},
		"timestamp": h.clock.Now().UTC(),
	})
}

func (h *APIHandlers) RegisterWorkflow(c fiber.Ctx) error {
	var req RegisterWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflowService.Register(c.Context(), req.ToModel(c.Params("id")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var req services.CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	schedule, err := h.scheduleService.CreateSchedule(c.Context(), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	schedule, err := h.scheduleService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) ListSchedules(c fiber.Ctx) error {
	req := services.ListSchedulesRequest{WorkflowID: c.Query("workflow_id")}

	var err error
	if req.Limit, err = queryInt(c, "limit"); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if req.Offset, err = queryInt(c, "offset"); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ScheduleStatus(statusStr)
		req.Status = &status
	}

	result, err := h.scheduleService.ListSchedules(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"schedules":     result.Schedules,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) UpdateSchedule(c fiber.Ctx) error {
	var req services.UpdateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	schedule, err := h.scheduleService.UpdateSchedule(c.Context(), c.Params("id"), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	if err := h.scheduleService.DeleteSchedule(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableSchedule(c fiber.Ctx) error {
	schedule, err := h.scheduleService.EnableSchedule(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) DisableSchedule(c fiber.Ctx) error {
	schedule, err := h.scheduleService.DisableSchedule(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) TriggerSchedule(c fiber.Ctx) error {
	run, err := h.scheduler.TriggerSchedule(c.Context(), c.Params("id"))
	if err != nil && run == nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) CreateRun(c fiber.Ctx) error {
	var req CreateRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	run, err := h.runService.CreateRun(c.Context(), &services.CreateRunRequest{
		WorkflowID: c.Params("id"),
		Inputs:     req.Inputs,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	req, err := parseListRunsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.runService.ListRuns(c.Context(), c.Params("id"), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// parseListRunsRequest parses paging and filter query parameters. Dates are RFC 3339.
func parseListRunsRequest(c fiber.Ctx) (*services.ListRunsRequest, error) {
	req := &services.ListRunsRequest{}

	var err error
	if req.Page, err = queryInt(c, "page"); err != nil {
		return nil, err
	}

	if req.PageSize, err = queryInt(c, "page_size"); err != nil {
		return nil, err
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.RunStatus(statusStr)
		req.Status = &status
	}

	if req.StartDate, err = queryTime(c, "start_date"); err != nil {
		return nil, err
	}

	if req.EndDate, err = queryTime(c, "end_date"); err != nil {
		return nil, err
	}

	return req, nil
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	run, err := h.runService.StartRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CompleteRun(c fiber.Ctx) error {
	var result services.RunResult
	if err := c.Bind().JSON(&result); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	run, err := h.runService.CompleteRun(c.Context(), c.Params("id"), result)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	run, err := h.runService.CancelRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) DeleteRuns(c fiber.Ctx) error {
	var req DeleteRunsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	deleted, err := h.runService.DeleteRuns(c.Context(), req.IDs)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CountResponse{Count: deleted})
}

func (h *APIHandlers) CleanupRuns(c fiber.Ctx) error {
	var req CleanupRunsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	deleted, err := h.runService.CleanupOldRuns(c.Context(), req.DaysToKeep)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CountResponse{Count: deleted})
}

func (h *APIHandlers) WorkerStatus(c fiber.Ctx) error {
	return c.JSON(h.scheduler.Status())
}

func (h *APIHandlers) StartWorker(c fiber.Ctx) error {
	if err := h.scheduler.Start(h.ctx); err != nil {
		return internalError(c, err)
	}

	return c.JSON(h.scheduler.Status())
}

func (h *APIHandlers) StopWorker(c fiber.Ctx) error {
	if err := h.scheduler.Stop(c.Context()); err != nil {
		return internalError(c, err)
	}

	return c.JSON(h.scheduler.Status())
}

func queryInt(c fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}

func queryTime(c fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
