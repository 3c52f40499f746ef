package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-engine/backend/pkg/models"
)

func TestAdvanceStageValidation(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.AdvanceStage(context.Background(), "")
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = eng.AdvanceStage(context.Background(), "no-such-workflow")
	assert.True(t, models.IsNotFound(err))
}

func TestAdvanceStageGating(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	seeded := seedTemplate(t, store, [][]int{{1}, {1}})
	clientID := seedClient(t, store)

	result, err := eng.StartWorkflow(ctx, clientID, seeded.TemplateID)
	require.NoError(t, err)
	w := result.Workflow

	// Nothing completed yet: advancement must fail and mutate nothing.
	_, err = eng.AdvanceStage(ctx, w.ID)
	require.Error(t, err)
	assert.Equal(t, models.KindPrecondition, models.KindOf(err))

	stages, err := store.ListStageInstances(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusInProgress, stages[0].Status)
	assert.Equal(t, models.StageStatusNotStarted, stages[1].Status)
	assert.Empty(t, eventsOfType(t, store, w.ID, models.EventStageCompleted))
}

func TestAdvanceStageEntersNext(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	seeded := seedTemplate(t, store, [][]int{{1}, {2}})
	clientID := seedClient(t, store)

	result, err := eng.StartWorkflow(ctx, clientID, seeded.TemplateID)
	require.NoError(t, err)
	w := result.Workflow

	_, err = eng.CompleteTask(ctx, taskInstanceID(t, w, 1, 1, 1), nil, "")
	require.NoError(t, err)

	res, err := eng.AdvanceStage(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Stage 2", res.NextStageName)
	assert.False(t, res.WorkflowCompleted)

	stages, err := store.ListStageInstances(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusCompleted, stages[0].Status)
	require.NotNil(t, stages[0].CompletedAt)
	assert.Equal(t, models.StageStatusInProgress, stages[1].Status)
	require.NotNil(t, stages[1].StartedAt)

	updated, err := store.GetWorkflowInstance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, stages[1].ID, updated.CurrentStageID)

	assert.Len(t, eventsOfType(t, store, w.ID, models.EventStageCompleted), 1)
	assert.Len(t, eventsOfType(t, store, w.ID, models.EventStageEntered), 1)

	// Stage 2's deliverable is activated and both its tasks released.
	d, err := store.GetDeliverableInstance(ctx, w.InstanceMap["stage_2_deliverable_1"])
	require.NoError(t, err)
	assert.Equal(t, models.DeliverableStatusInProgress, d.Status)
	assert.Len(t, eventsOfType(t, store, w.ID, models.EventTaskReleased), 3)
}

func TestAdvanceStageCompletesWorkflow(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	seeded := seedTemplate(t, store, [][]int{{1}})
	clientID := seedClient(t, store)

	result, err := eng.StartWorkflow(ctx, clientID, seeded.TemplateID)
	require.NoError(t, err)
	w := result.Workflow

	_, err = eng.CompleteTask(ctx, taskInstanceID(t, w, 1, 1, 1), nil, "")
	require.NoError(t, err)

	res, err := eng.AdvanceStage(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.WorkflowCompleted)
	assert.Empty(t, res.NextStageName)

	updated, err := store.GetWorkflowInstance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Len(t, eventsOfType(t, store, w.ID, models.EventWorkflowInstanceCompleted), 1)
}

// TestOnboardingEndToEnd walks the full 2×1×2 onboarding scenario:
// materialize, complete stage 1's tasks, advance, complete stage 2's tasks,
// advance to workflow completion.
func TestOnboardingEndToEnd(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)
	seeded := seedTemplate(t, store, [][]int{{2}, {2}})
	clientID := seedClient(t, store)

	result, err := eng.StartWorkflow(ctx, clientID, seeded.TemplateID)
	require.NoError(t, err)
	w := result.Workflow
	assert.Equal(t, 2, result.StagesCreated)

	stages, err := store.ListStageInstances(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageStatusInProgress, stages[0].Status)
	d1, err := store.GetDeliverableInstance(ctx, w.InstanceMap["stage_1_deliverable_1"])
	require.NoError(t, err)
	assert.Equal(t, models.DeliverableStatusInProgress, d1.Status)
	assert.Len(t, eventsOfType(t, store, w.ID, models.EventTaskReleased), 2)

	// Complete 1a: deliverable stays open, progress 25%.
	res, err := eng.CompleteTask(ctx, taskInstanceID(t, w, 1, 1, 1), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 25, res.ProgressPercentage)
	d1, err = store.GetDeliverableInstance(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverableStatusInProgress, d1.Status)

	// Complete 1b: deliverable completes, progress 50%.
	res, err = eng.CompleteTask(ctx, taskInstanceID(t, w, 1, 1, 2), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 50, res.ProgressPercentage)
	d1, err = store.GetDeliverableInstance(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverableStatusCompleted, d1.Status)
	assert.Len(t, eventsOfType(t, store, w.ID, models.EventDeliverableCompleted), 1)

	// Advance into stage 2: its deliverable activates, tasks release.
	advRes, err := eng.AdvanceStage(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Stage 2", advRes.NextStageName)
	assert.Len(t, eventsOfType(t, store, w.ID, models.EventTaskReleased), 4)

	// Complete 2a and 2b, then close out the workflow.
	_, err = eng.CompleteTask(ctx, taskInstanceID(t, w, 2, 1, 1), nil, "")
	require.NoError(t, err)
	res, err = eng.CompleteTask(ctx, taskInstanceID(t, w, 2, 1, 2), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 100, res.ProgressPercentage)

	advRes, err = eng.AdvanceStage(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, advRes.WorkflowCompleted)

	final, err := store.GetWorkflowInstance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final.Status)
	assert.Equal(t, 100, final.ProgressPercentage)
}
