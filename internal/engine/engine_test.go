package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"engagement-engine/backend/internal/events"
	"engagement-engine/backend/internal/logging"
	"engagement-engine/backend/internal/repository"
	"engagement-engine/backend/pkg/models"
)

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	publisher := events.NewStorePublisher(store, logging.NewNop())
	return New(store, publisher, logging.NewNop(), 0), store
}

// seededTemplate tracks the ids of a seeded template graph so tests can
// attach outcome rules and field definitions to specific task templates.
type seededTemplate struct {
	TemplateID string
	VersionID  string
	// StageIDs[s], DeliverableIDs[s][d], TaskIDs[s][d][k] mirror the shape
	// passed to seedTemplate, zero-indexed.
	StageIDs       []string
	DeliverableIDs [][]string
	TaskIDs        [][][]string
}

// seedTemplate creates a template graph with the given shape:
// shape[stage][deliverable] = number of tasks.
func seedTemplate(t *testing.T, store *repository.MemoryStore, shape [][]int) *seededTemplate {
	t.Helper()
	ctx := context.Background()

	seeded := &seededTemplate{TemplateID: uuid.New().String(), VersionID: uuid.New().String()}
	require.NoError(t, store.CreateWorkflowTemplate(ctx, &models.WorkflowTemplate{
		ID:   seeded.TemplateID,
		Name: "Onboarding",
	}))
	require.NoError(t, store.CreateTemplateVersion(ctx, &models.WorkflowTemplateVersion{
		ID:                 seeded.VersionID,
		WorkflowTemplateID: seeded.TemplateID,
		VersionNumber:      1,
		Status:             models.VersionStatusPublished,
	}))

	for si, deliverables := range shape {
		stageID := uuid.New().String()
		seeded.StageIDs = append(seeded.StageIDs, stageID)
		require.NoError(t, store.CreateStageTemplate(ctx, &models.StageTemplate{
			ID:            stageID,
			VersionID:     seeded.VersionID,
			Name:          fmt.Sprintf("Stage %d", si+1),
			SequenceOrder: si + 1,
		}))

		var delivIDs []string
		var taskIDs [][]string
		for di, taskCount := range deliverables {
			delivID := uuid.New().String()
			delivIDs = append(delivIDs, delivID)
			require.NoError(t, store.CreateDeliverableTemplate(ctx, &models.DeliverableTemplate{
				ID:              delivID,
				StageTemplateID: stageID,
				Name:            fmt.Sprintf("Deliverable %d.%d", si+1, di+1),
				SequenceOrder:   di + 1,
			}))

			var ids []string
			for k := 0; k < taskCount; k++ {
				taskID := uuid.New().String()
				ids = append(ids, taskID)
				require.NoError(t, store.CreateTaskTemplate(ctx, &models.TaskTemplate{
					ID:                    taskID,
					DeliverableTemplateID: delivID,
					Name:                  fmt.Sprintf("Task %d.%d.%d", si+1, di+1, k+1),
					SequenceOrder:         k + 1,
				}))
			}
			taskIDs = append(taskIDs, ids)
		}
		seeded.DeliverableIDs = append(seeded.DeliverableIDs, delivIDs)
		seeded.TaskIDs = append(seeded.TaskIDs, taskIDs)
	}
	return seeded
}

// setTaskRules replaces a seeded task template with one carrying the given
// outcome rules and field definitions.
func setTaskRules(t *testing.T, store *repository.MemoryStore, seeded *seededTemplate, s, d, k int, fields []models.DataFieldDefinition, rules []models.OutcomeRule) {
	t.Helper()
	ctx := context.Background()
	tmpl, err := store.GetTaskTemplate(ctx, seeded.TaskIDs[s][d][k])
	require.NoError(t, err)
	tmpl.DataFieldDefinitions = fields
	tmpl.OutcomeRules = rules
	require.NoError(t, store.CreateTaskTemplate(ctx, tmpl))
}

func seedClient(t *testing.T, store *repository.MemoryStore) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, store.CreateClient(context.Background(), &models.Client{ID: id, Name: "Acme Corp"}))
	return id
}

func eventsOfType(t *testing.T, store *repository.MemoryStore, workflowID string, eventType models.EventType) []*models.Event {
	t.Helper()
	all, err := store.ListEvents(context.Background(), workflowID)
	require.NoError(t, err)
	var out []*models.Event
	for _, e := range all {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// taskInstanceID resolves a task instance via the workflow's instance map,
// using 1-based template coordinates.
func taskInstanceID(t *testing.T, w *models.WorkflowInstance, s, d, k int) string {
	t.Helper()
	key := fmt.Sprintf("stage_%d_deliverable_%d_task_%d", s, d, k)
	id, ok := w.InstanceMap[key]
	require.True(t, ok, "instance map is missing %s", key)
	return id
}
