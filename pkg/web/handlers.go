// Package web provides the HTTP handlers of the tideflow API.
package web

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
)

const defaultUpcoming = 5

type APIHandlers struct {
	workflowService *services.Workflow
	instanceService *services.Instance
	clock           clockwork.Clock
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	instanceService *services.Instance,
	clock clockwork.Clock,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		instanceService: instanceService,
		clock:           clock,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Get("/:component/:id", h.GetWorkflow)
	w.Put("/:component/:id", h.PutWorkflow)
	w.Delete("/:component/:id", h.DeleteWorkflow)
	w.Get("/:component/:id/upcoming", h.GetUpcomingExecutions)

	i := app.Group("/instances")
	i.Get("/", h.GetInstances)
	i.Get("/:component/:id/:parameter", h.GetInstance)
	i.Get("/:component/:id/:parameter/events", h.GetInstanceEvents)
	i.Post("/:component/:id/:parameter/trigger", h.TriggerInstance)
	i.Post("/:component/:id/:parameter/halt", h.HaltInstance)
	i.Post("/:component/:id/:parameter/retry", h.RetryInstance)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Tideflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Tideflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": h.clock.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), services.ListWorkflowsRequest{
		ComponentID: c.Query("component_id"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), workflowID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// PutWorkflow creates or replaces a workflow configuration.
func (h *APIHandlers) PutWorkflow(c fiber.Ctx) error {
	body := c.Body()

	if err := validateWorkflowDocument(body); err != nil {
		return badRequest(c, err.Error())
	}

	var req WorkflowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	saved, created, err := h.workflowService.Save(c.Context(), req.ToWorkflow(workflowID(c)))
	if err != nil {
		return handleServiceError(c, err)
	}

	if created {
		return c.Status(fiber.StatusCreated).JSON(saved)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), workflowID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetUpcomingExecutions(c fiber.Ctx) error {
	count := defaultUpcoming

	if countStr := c.Query("count"); countStr != "" {
		parsed, err := strconv.Atoi(countStr)
		if err != nil {
			return badRequest(c, "Invalid count: "+err.Error())
		}

		count = parsed
	}

	upcoming, err := h.workflowService.UpcomingExecutions(c.Context(), workflowID(c), h.clock.Now(), count)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"upcoming": upcoming})
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.instanceService.ListInstances(c.Context(), services.ListInstancesRequest{
		ComponentID: c.Query("component_id"),
		WorkflowID:  c.Query("workflow_id"),
		State:       models.State(c.Query("state")),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := workflowInstance(c)
	if err != nil {
		return badRequest(c, "Invalid parameter: "+err.Error())
	}

	runState, err := h.instanceService.FetchState(c.Context(), instance)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(runState)
}

func (h *APIHandlers) GetInstanceEvents(c fiber.Ctx) error {
	instance, err := workflowInstance(c)
	if err != nil {
		return badRequest(c, "Invalid parameter: "+err.Error())
	}

	log, err := h.instanceService.Events(c.Context(), instance)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"instance": instance.Key(), "events": log})
}

// TriggerInstance starts an instance on demand. The body is optional.
func (h *APIHandlers) TriggerInstance(c fiber.Ctx) error {
	instance, err := workflowInstance(c)
	if err != nil {
		return badRequest(c, "Invalid parameter: "+err.Error())
	}

	var req TriggerRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	runState, err := h.instanceService.Trigger(c.Context(), instance, services.TriggerRequest{Type: req.Type, ID: req.ID})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(runState)
}

func (h *APIHandlers) HaltInstance(c fiber.Ctx) error {
	instance, err := workflowInstance(c)
	if err != nil {
		return badRequest(c, "Invalid parameter: "+err.Error())
	}

	runState, err := h.instanceService.Halt(c.Context(), instance)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(runState)
}

func (h *APIHandlers) RetryInstance(c fiber.Ctx) error {
	instance, err := workflowInstance(c)
	if err != nil {
		return badRequest(c, "Invalid parameter: "+err.Error())
	}

	runState, err := h.instanceService.Retry(c.Context(), instance)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(runState)
}

func workflowID(c fiber.Ctx) models.WorkflowID {
	return models.NewWorkflowID(c.Params("component"), c.Params("id"))
}

// workflowInstance reads the instance from the path. Parameters such as
// "2024/03/01" arrive escaped.
func workflowInstance(c fiber.Ctx) (models.WorkflowInstance, error) {
	parameter, err := url.PathUnescape(c.Params("parameter"))
	if err != nil {
		return models.WorkflowInstance{}, err
	}

	return models.NewWorkflowInstance(workflowID(c), parameter), nil
}

func pagination(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = parsed
	}

	return limit, offset, nil
}
