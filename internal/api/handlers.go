// Package api contains the HTTP handlers for the engagement engine.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"engagement-engine/backend/internal/engine"
	"engagement-engine/backend/internal/logging"
	"engagement-engine/backend/internal/repository"
	"engagement-engine/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine *engine.Engine
	Repo   repository.Store
	Logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, repo repository.Store, logger *logging.Logger) *Server {
	return &Server{Engine: eng, Repo: repo, Logger: logger}
}

// RegisterHandlers mounts the API routes on the given group.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.POST("/workflows/start", s.StartWorkflow)
	g.POST("/tasks/complete", s.CompleteTask)
	g.POST("/workflows/advance-stage", s.AdvanceStage)
	g.GET("/workflows/instances/:id", s.GetWorkflowInstance)
	g.GET("/workflows/instances/:id/events", s.ListWorkflowEvents)
}

// httpError maps the domain error taxonomy onto transport status codes.
func httpError(err error) error {
	var domainErr *models.Error
	if errors.As(err, &domainErr) {
		switch domainErr.Kind {
		case models.KindValidation, models.KindPrecondition:
			return echo.NewHTTPError(http.StatusBadRequest, domainErr.Message)
		case models.KindNotFound:
			return echo.NewHTTPError(http.StatusNotFound, domainErr.Message)
		case models.KindDependency:
			return echo.NewHTTPError(http.StatusBadGateway, domainErr.Message)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// StartWorkflowRequest is the body for POST /workflows/start.
type StartWorkflowRequest struct {
	ClientID           string `json:"client_id"`
	WorkflowTemplateID string `json:"workflow_template_id"`
}

// StartWorkflow materializes a workflow instance for a client
// (POST /api/v1/workflows/start)
func (s *Server) StartWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	result, err := s.Engine.StartWorkflow(ctx, req.ClientID, req.WorkflowTemplateID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

// CompleteTaskRequest is the body for POST /tasks/complete.
type CompleteTaskRequest struct {
	TaskInstanceID string         `json:"task_instance_id"`
	FieldValues    map[string]any `json:"field_values,omitempty"`
	Outcome        string         `json:"outcome,omitempty"`
}

// CompleteTask marks a task complete and advances the workflow
// (POST /api/v1/tasks/complete)
func (s *Server) CompleteTask(c echo.Context) error {
	ctx := c.Request().Context()

	var req CompleteTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	result, err := s.Engine.CompleteTask(ctx, req.TaskInstanceID, req.FieldValues, req.Outcome)
	if err != nil {
		return httpError(err)
	}
	if result.EnrichedFields == nil {
		result.EnrichedFields = []string{}
	}

	return c.JSON(http.StatusOK, result)
}

// AdvanceStageRequest is the body for POST /workflows/advance-stage.
type AdvanceStageRequest struct {
	WorkflowInstanceID string `json:"workflow_instance_id"`
}

// AdvanceStage closes the current stage and enters the next
// (POST /api/v1/workflows/advance-stage)
func (s *Server) AdvanceStage(c echo.Context) error {
	ctx := c.Request().Context()

	var req AdvanceStageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	result, err := s.Engine.AdvanceStage(ctx, req.WorkflowInstanceID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// WorkflowInstanceDetail is a workflow instance with its full tree.
type WorkflowInstanceDetail struct {
	*models.WorkflowInstance
	Stages       []*models.StageInstance       `json:"stages"`
	Deliverables []*models.DeliverableInstance `json:"deliverables"`
	Tasks        []*models.TaskInstance        `json:"tasks"`
}

// GetWorkflowInstance returns a workflow instance with its stage,
// deliverable, and task tree
// (GET /api/v1/workflows/instances/:id)
func (s *Server) GetWorkflowInstance(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	w, err := s.Repo.GetWorkflowInstance(ctx, id)
	if err != nil {
		return httpError(err)
	}
	stages, err := s.Repo.ListStageInstances(ctx, id)
	if err != nil {
		return httpError(err)
	}
	deliverables, err := s.Repo.ListWorkflowDeliverables(ctx, id)
	if err != nil {
		return httpError(err)
	}
	tasks, err := s.Repo.ListWorkflowTasks(ctx, id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, &WorkflowInstanceDetail{
		WorkflowInstance: w,
		Stages:           stages,
		Deliverables:     deliverables,
		Tasks:            tasks,
	})
}

// ListWorkflowEvents returns a workflow's event stream in emission order
// (GET /api/v1/workflows/instances/:id/events)
func (s *Server) ListWorkflowEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	// 404 for unknown workflows rather than an empty stream.
	if _, err := s.Repo.GetWorkflowInstance(ctx, id); err != nil {
		return httpError(err)
	}
	events, err := s.Repo.ListEvents(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if events == nil {
		events = []*models.Event{}
	}

	return c.JSON(http.StatusOK, events)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "engagement-engine",
		Version:   "1.0.0",
	})
}
