package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"engagement-engine/backend/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	// Seed one template graph and one client; the subtests build on it.
	templateID := uuid.New().String()
	require.NoError(t, store.CreateWorkflowTemplate(ctx, &models.WorkflowTemplate{ID: templateID, Name: "Onboarding"}))

	v1 := uuid.New().String()
	v2 := uuid.New().String()
	require.NoError(t, store.CreateTemplateVersion(ctx, &models.WorkflowTemplateVersion{
		ID: v1, WorkflowTemplateID: templateID, VersionNumber: 1, Status: models.VersionStatusPublished,
	}))
	require.NoError(t, store.CreateTemplateVersion(ctx, &models.WorkflowTemplateVersion{
		ID: v2, WorkflowTemplateID: templateID, VersionNumber: 2, Status: models.VersionStatusDraft,
	}))

	stageID := uuid.New().String()
	require.NoError(t, store.CreateStageTemplate(ctx, &models.StageTemplate{
		ID: stageID, VersionID: v2, Name: "Discovery", SequenceOrder: 1,
	}))
	delivID := uuid.New().String()
	require.NoError(t, store.CreateDeliverableTemplate(ctx, &models.DeliverableTemplate{
		ID: delivID, StageTemplateID: stageID, Name: "Kickoff", SequenceOrder: 1,
	}))
	taskID := uuid.New().String()
	require.NoError(t, store.CreateTaskTemplate(ctx, &models.TaskTemplate{
		ID: taskID, DeliverableTemplateID: delivID, Name: "Hold kickoff call", SequenceOrder: 1,
		DataFieldDefinitions: []models.DataFieldDefinition{{Code: "primary_contact", Label: "Primary contact", SaveToClientField: "primary_contact"}},
		OutcomeRules:         []models.OutcomeRule{{OutcomeName: "not_a_fit", Action: models.ActionEndWorkflow}},
	}))

	clientID := uuid.New().String()
	require.NoError(t, store.CreateClient(ctx, &models.Client{ID: clientID, Name: "Acme Corp"}))

	t.Run("latest version wins regardless of status", func(t *testing.T) {
		v, err := store.LatestTemplateVersion(ctx, templateID)
		require.NoError(t, err)
		assert.Equal(t, v2, v.ID)
		assert.Equal(t, 2, v.VersionNumber)
	})

	t.Run("task template round trips jsonb columns", func(t *testing.T) {
		tmpl, err := store.GetTaskTemplate(ctx, taskID)
		require.NoError(t, err)
		require.Len(t, tmpl.DataFieldDefinitions, 1)
		assert.Equal(t, "primary_contact", tmpl.DataFieldDefinitions[0].Code)
		require.Len(t, tmpl.OutcomeRules, 1)
		assert.Equal(t, models.ActionEndWorkflow, tmpl.OutcomeRules[0].Action)
	})

	t.Run("missing rows map to not found", func(t *testing.T) {
		_, err := store.GetWorkflowTemplate(ctx, uuid.New().String())
		assert.True(t, models.IsNotFound(err))
		_, err = store.GetTaskInstance(ctx, uuid.New().String())
		assert.True(t, models.IsNotFound(err))
	})

	now := time.Now().UTC()
	workflowID := uuid.New().String()
	stageInstID := uuid.New().String()
	delivInstID := uuid.New().String()
	taskInstID := uuid.New().String()

	t.Run("instance graph persists atomically", func(t *testing.T) {
		graph := &models.InstanceGraph{
			Workflow: &models.WorkflowInstance{
				ID: workflowID, TemplateID: templateID, VersionID: v2, ClientID: clientID,
				Name: "Onboarding", Status: models.WorkflowStatusInProgress,
				CurrentStageID: stageInstID,
				InstanceMap: map[string]string{
					"stage_1":                      stageInstID,
					"stage_1_deliverable_1":        delivInstID,
					"stage_1_deliverable_1_task_1": taskInstID,
				},
				StartedAt: &now,
			},
			Stages: []*models.StageInstance{{
				ID: stageInstID, WorkflowInstanceID: workflowID, StageTemplateID: stageID,
				Name: "Discovery", SequenceOrder: 1, Status: models.StageStatusInProgress, StartedAt: &now,
			}},
			Deliverables: []*models.DeliverableInstance{{
				ID: delivInstID, StageInstanceID: stageInstID, WorkflowInstanceID: workflowID,
				DeliverableTemplateID: delivID, Name: "Kickoff", SequenceOrder: 1,
				Status: models.DeliverableStatusInProgress,
			}},
			Tasks: []*models.TaskInstance{{
				ID: taskInstID, DeliverableInstanceID: delivInstID, WorkflowInstanceID: workflowID,
				TaskTemplateID: taskID, ClientID: clientID, Name: "Hold kickoff call",
				SequenceOrder: 1, Status: models.TaskStatusNotStarted,
				Checklist: []models.ChecklistItem{{Name: "Send agenda", SequenceOrder: 1}},
			}},
		}
		require.NoError(t, store.CreateInstanceGraph(ctx, graph))

		w, err := store.GetWorkflowInstance(ctx, workflowID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusInProgress, w.Status)
		assert.Equal(t, stageInstID, w.InstanceMap["stage_1"])
		assert.Equal(t, taskInstID, w.InstanceMap["stage_1_deliverable_1_task_1"])

		stages, err := store.ListStageInstances(ctx, workflowID)
		require.NoError(t, err)
		require.Len(t, stages, 1)
		assert.Equal(t, "Discovery", stages[0].Name)

		tasks, err := store.ListDeliverableTasks(ctx, delivInstID)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		require.Len(t, tasks[0].Checklist, 1)
		assert.Equal(t, "Send agenda", tasks[0].Checklist[0].Name)
	})

	t.Run("task update round trips field values", func(t *testing.T) {
		task, err := store.GetTaskInstance(ctx, taskInstID)
		require.NoError(t, err)
		task.Status = models.TaskStatusCompleted
		task.FieldValues = map[string]any{"primary_contact": "jordan@acme.example", "timeline_weeks": float64(6)}
		task.CompletedAt = &now
		require.NoError(t, store.UpdateTaskInstance(ctx, task))

		got, err := store.GetTaskInstance(ctx, taskInstID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, got.Status)
		assert.Equal(t, "jordan@acme.example", got.FieldValues["primary_contact"])
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("deliverable completion is first writer wins", func(t *testing.T) {
		won, err := store.CompleteDeliverable(ctx, delivInstID)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = store.CompleteDeliverable(ctx, delivInstID)
		require.NoError(t, err)
		assert.False(t, won)

		d, err := store.GetDeliverableInstance(ctx, delivInstID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliverableStatusCompleted, d.Status)
	})

	t.Run("set client field merges into metadata", func(t *testing.T) {
		require.NoError(t, store.SetClientField(ctx, clientID, "primary_contact", "jordan@acme.example"))
		require.NoError(t, store.SetClientField(ctx, clientID, "timeline_weeks", 6))

		c, err := store.GetClient(ctx, clientID)
		require.NoError(t, err)
		assert.Equal(t, "jordan@acme.example", c.Metadata["primary_contact"])
		assert.Equal(t, float64(6), c.Metadata["timeline_weeks"])
	})

	t.Run("events list in emission order", func(t *testing.T) {
		for _, et := range []models.EventType{models.EventWorkflowInstanceStarted, models.EventTaskReleased, models.EventTaskCompleted} {
			require.NoError(t, store.AppendEvent(ctx, &models.Event{
				ID:                 uuid.New().String(),
				WorkflowInstanceID: workflowID,
				EventType:          et,
				SourceEntityType:   models.EntityWorkflowInstance,
				SourceEntityID:     workflowID,
				ActorType:          models.ActorSystem,
				OccurredAt:         now,
			}))
		}

		events, err := store.ListEvents(ctx, workflowID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, models.EventWorkflowInstanceStarted, events[0].EventType)
		assert.Equal(t, models.EventTaskReleased, events[1].EventType)
		assert.Equal(t, models.EventTaskCompleted, events[2].EventType)
	})
}
