package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-engine/backend/internal/engine"
	"engagement-engine/backend/internal/events"
	"engagement-engine/backend/internal/logging"
	"engagement-engine/backend/internal/repository"
	"engagement-engine/backend/pkg/models"
)

type testFixture struct {
	echo       *echo.Echo
	store      *repository.MemoryStore
	clientID   string
	templateID string
}

// newTestFixture wires the full handler stack over an in-memory store and
// seeds a two-stage template (one deliverable, two tasks per stage).
func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	logger := logging.NewNop()
	eng := engine.New(store, events.NewStorePublisher(store, logger), logger, 0)

	e := echo.New()
	RegisterHandlers(e.Group("/api/v1"), NewServer(eng, store, logger))

	f := &testFixture{
		echo:       e,
		store:      store,
		clientID:   uuid.New().String(),
		templateID: uuid.New().String(),
	}
	require.NoError(t, store.CreateClient(ctx, &models.Client{ID: f.clientID, Name: "Acme Corp"}))
	require.NoError(t, store.CreateWorkflowTemplate(ctx, &models.WorkflowTemplate{ID: f.templateID, Name: "Onboarding"}))

	versionID := uuid.New().String()
	require.NoError(t, store.CreateTemplateVersion(ctx, &models.WorkflowTemplateVersion{
		ID:                 versionID,
		WorkflowTemplateID: f.templateID,
		VersionNumber:      1,
		Status:             models.VersionStatusPublished,
	}))
	for s := 1; s <= 2; s++ {
		stageID := uuid.New().String()
		require.NoError(t, store.CreateStageTemplate(ctx, &models.StageTemplate{
			ID:            stageID,
			VersionID:     versionID,
			Name:          fmt.Sprintf("Stage %d", s),
			SequenceOrder: s,
		}))
		delivID := uuid.New().String()
		require.NoError(t, store.CreateDeliverableTemplate(ctx, &models.DeliverableTemplate{
			ID:              delivID,
			StageTemplateID: stageID,
			Name:            fmt.Sprintf("Deliverable %d", s),
			SequenceOrder:   1,
		}))
		for k := 1; k <= 2; k++ {
			require.NoError(t, store.CreateTaskTemplate(ctx, &models.TaskTemplate{
				ID:                    uuid.New().String(),
				DeliverableTemplateID: delivID,
				Name:                  fmt.Sprintf("Task %d.%d", s, k),
				SequenceOrder:         k,
			}))
		}
	}
	return f
}

func (f *testFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestStartWorkflowHandler(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workflows/start", StartWorkflowRequest{
		ClientID:           f.clientID,
		WorkflowTemplateID: f.templateID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result engine.StartResult
	decodeJSON(t, rec, &result)
	assert.Equal(t, 2, result.StagesCreated)
	require.NotNil(t, result.Workflow)
	assert.Equal(t, models.WorkflowStatusInProgress, result.Workflow.Status)
	assert.NotEmpty(t, result.Workflow.InstanceMap["stage_1_deliverable_1_task_1"])
}

func TestStartWorkflowHandlerValidation(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workflows/start", StartWorkflowRequest{ClientID: f.clientID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workflows/start", StartWorkflowRequest{
		ClientID:           f.clientID,
		WorkflowTemplateID: uuid.New().String(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteTaskHandler(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workflows/start", StartWorkflowRequest{
		ClientID:           f.clientID,
		WorkflowTemplateID: f.templateID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var started engine.StartResult
	decodeJSON(t, rec, &started)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/complete", CompleteTaskRequest{
		TaskInstanceID: started.Workflow.InstanceMap["stage_1_deliverable_1_task_1"],
		FieldValues:    map[string]any{"notes": "kickoff held"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result engine.CompleteTaskResult
	decodeJSON(t, rec, &result)
	assert.Equal(t, 25, result.ProgressPercentage)
	assert.Empty(t, result.EnrichedFields)
}

func TestCompleteTaskHandlerNotFound(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks/complete", CompleteTaskRequest{
		TaskInstanceID: uuid.New().String(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdvanceStageHandlerGating(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workflows/start", StartWorkflowRequest{
		ClientID:           f.clientID,
		WorkflowTemplateID: f.templateID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var started engine.StartResult
	decodeJSON(t, rec, &started)

	// First stage still has open tasks: advancement is rejected.
	rec = f.do(t, http.MethodPost, "/api/v1/workflows/advance-stage", AdvanceStageRequest{
		WorkflowInstanceID: started.Workflow.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for k := 1; k <= 2; k++ {
		rec = f.do(t, http.MethodPost, "/api/v1/tasks/complete", CompleteTaskRequest{
			TaskInstanceID: started.Workflow.InstanceMap[fmt.Sprintf("stage_1_deliverable_1_task_%d", k)],
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/workflows/advance-stage", AdvanceStageRequest{
		WorkflowInstanceID: started.Workflow.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result engine.AdvanceStageResult
	decodeJSON(t, rec, &result)
	assert.True(t, result.Success)
	assert.Equal(t, "Stage 2", result.NextStageName)
}

func TestGetWorkflowInstanceHandler(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workflows/start", StartWorkflowRequest{
		ClientID:           f.clientID,
		WorkflowTemplateID: f.templateID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var started engine.StartResult
	decodeJSON(t, rec, &started)

	rec = f.do(t, http.MethodGet, "/api/v1/workflows/instances/"+started.Workflow.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail WorkflowInstanceDetail
	decodeJSON(t, rec, &detail)
	assert.Equal(t, started.Workflow.ID, detail.ID)
	assert.Len(t, detail.Stages, 2)
	assert.Len(t, detail.Deliverables, 2)
	assert.Len(t, detail.Tasks, 4)

	rec = f.do(t, http.MethodGet, "/api/v1/workflows/instances/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWorkflowEventsHandler(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/workflows/start", StartWorkflowRequest{
		ClientID:           f.clientID,
		WorkflowTemplateID: f.templateID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var started engine.StartResult
	decodeJSON(t, rec, &started)

	rec = f.do(t, http.MethodGet, "/api/v1/workflows/instances/"+started.Workflow.ID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var evts []*models.Event
	decodeJSON(t, rec, &evts)
	require.Len(t, evts, 3)
	assert.Equal(t, models.EventWorkflowInstanceStarted, evts[0].EventType)
	assert.Equal(t, models.EventTaskReleased, evts[1].EventType)

	rec = f.do(t, http.MethodGet, "/api/v1/workflows/instances/"+uuid.New().String()+"/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	f := newTestFixture(t)
	f.echo.GET("/healthz", NewServer(nil, f.store, logging.NewNop()).HandleHealth)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	decodeJSON(t, rec, &status)
	assert.Equal(t, "ok", status.Status)
}
