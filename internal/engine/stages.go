package engine

import (
	"context"
	"time"

	"engagement-engine/backend/pkg/models"
)

// AdvanceStageResult is the outcome of an explicit stage advancement.
type AdvanceStageResult struct {
	Success           bool   `json:"success"`
	NextStageName     string `json:"next_stage_name,omitempty"`
	WorkflowCompleted bool   `json:"workflow_completed,omitempty"`
}

// AdvanceStage closes the workflow's current stage and enters the next one.
// This is deliberately a separate transition from per-task advancement: a
// deliverable can complete without its stage being ready to close, and
// external policy (human sign-off) gates the call. Preconditions: every
// deliverable under the current stage must be completed, otherwise the call
// fails and nothing is mutated. When no later stage exists the workflow
// itself completes.
func (e *Engine) AdvanceStage(ctx context.Context, workflowInstanceID string) (*AdvanceStageResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.AdvanceStage")
	defer span.End()

	if workflowInstanceID == "" {
		return nil, models.NewValidation("workflow_instance_id is required")
	}

	w, err := e.store.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		return nil, storeErr(err, "get workflow instance")
	}
	if w.CurrentStageID == "" {
		return nil, models.NewNotFound("workflow %s has no current stage", w.ID)
	}
	current, err := e.store.GetStageInstance(ctx, w.CurrentStageID)
	if err != nil {
		return nil, storeErr(err, "get stage instance")
	}

	deliverables, err := e.store.ListStageDeliverables(ctx, current.ID)
	if err != nil {
		return nil, storeErr(err, "list stage deliverables")
	}
	for _, d := range deliverables {
		if d.Status != models.DeliverableStatusCompleted {
			return nil, models.NewPrecondition("deliverable %q is not completed", d.Name)
		}
	}

	now := time.Now().UTC()
	current.Status = models.StageStatusCompleted
	current.CompletedAt = &now
	if err := e.store.UpdateStageInstance(ctx, current); err != nil {
		return nil, storeErr(err, "update stage instance")
	}
	if err := e.publisher.Emit(ctx, &models.Event{
		WorkflowInstanceID: w.ID,
		EventType:          models.EventStageCompleted,
		SourceEntityType:   models.EntityStageInstance,
		SourceEntityID:     current.ID,
		ActorType:          models.ActorUser,
		Payload:            map[string]any{"stage_name": current.Name},
	}); err != nil {
		return nil, storeErr(err, "emit stage_completed")
	}

	stages, err := e.store.ListStageInstances(ctx, w.ID)
	if err != nil {
		return nil, storeErr(err, "list stage instances")
	}
	var next *models.StageInstance
	for _, st := range stages {
		if st.SequenceOrder > current.SequenceOrder && st.Status == models.StageStatusNotStarted {
			next = st
			break
		}
	}

	if next == nil {
		// Terminal: no further transitions possible.
		w.Status = models.WorkflowStatusCompleted
		w.CompletedAt = &now
		if err := e.store.UpdateWorkflowInstance(ctx, w); err != nil {
			return nil, storeErr(err, "update workflow instance")
		}
		if err := e.publisher.Emit(ctx, &models.Event{
			WorkflowInstanceID: w.ID,
			EventType:          models.EventWorkflowInstanceCompleted,
			SourceEntityType:   models.EntityWorkflowInstance,
			SourceEntityID:     w.ID,
			ActorType:          models.ActorSystem,
			Payload:            map[string]any{"final_stage": current.Name},
		}); err != nil {
			return nil, storeErr(err, "emit workflow_instance_completed")
		}
		e.logger.Info("workflow completed", "workflow_instance_id", w.ID)
		return &AdvanceStageResult{Success: true, WorkflowCompleted: true}, nil
	}

	next.Status = models.StageStatusInProgress
	next.StartedAt = &now
	if err := e.store.UpdateStageInstance(ctx, next); err != nil {
		return nil, storeErr(err, "update stage instance")
	}
	w.CurrentStageID = next.ID
	if err := e.store.UpdateWorkflowInstance(ctx, w); err != nil {
		return nil, storeErr(err, "update workflow instance")
	}
	if err := e.publisher.Emit(ctx, &models.Event{
		WorkflowInstanceID: w.ID,
		EventType:          models.EventStageEntered,
		SourceEntityType:   models.EntityStageInstance,
		SourceEntityID:     next.ID,
		ActorType:          models.ActorSystem,
		Payload:            map[string]any{"stage_name": next.Name},
	}); err != nil {
		return nil, storeErr(err, "emit stage_entered")
	}

	stageDeliverables, err := e.store.ListStageDeliverables(ctx, next.ID)
	if err != nil {
		return nil, storeErr(err, "list stage deliverables")
	}
	if len(stageDeliverables) > 0 && stageDeliverables[0].Status == models.DeliverableStatusNotStarted {
		if err := e.activateDeliverable(ctx, stageDeliverables[0]); err != nil {
			return nil, err
		}
	}

	e.logger.Info("stage advanced",
		"workflow_instance_id", w.ID,
		"completed_stage", current.Name,
		"entered_stage", next.Name,
	)
	return &AdvanceStageResult{Success: true, NextStageName: next.Name}, nil
}
