package engine

import (
	"context"
	"time"

	"engagement-engine/backend/pkg/models"
)

// CompleteTaskResult is the outcome of a task completion.
type CompleteTaskResult struct {
	EnrichedFields     []string `json:"enriched_fields"`
	ProgressPercentage int      `json:"progress_percentage"`
}

// CompleteTask marks a task completed and propagates the transition:
// client-record enrichment, deliverable completion via compare-and-swap,
// outcome routing, and a workflow-wide progress recompute. Enrichment runs
// before the status write so a concurrent reader never observes a completed
// task whose enrichment has not landed.
func (e *Engine) CompleteTask(ctx context.Context, taskInstanceID string, fieldValues map[string]any, outcomeName string) (*CompleteTaskResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CompleteTask")
	defer span.End()

	if taskInstanceID == "" {
		return nil, models.NewValidation("task_instance_id is required")
	}

	task, err := e.store.GetTaskInstance(ctx, taskInstanceID)
	if err != nil {
		return nil, storeErr(err, "get task instance")
	}
	tmpl, err := e.store.GetTaskTemplate(ctx, task.TaskTemplateID)
	if err != nil {
		return nil, storeErr(err, "get task template")
	}

	enriched, err := e.enrichClient(ctx, task, tmpl, fieldValues)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusCompleted
	if len(fieldValues) > 0 {
		if task.FieldValues == nil {
			task.FieldValues = map[string]any{}
		}
		for k, v := range fieldValues {
			task.FieldValues[k] = v
		}
	}
	task.CompletedAt = &now
	if err := e.store.UpdateTaskInstance(ctx, task); err != nil {
		return nil, storeErr(err, "update task instance")
	}

	payload := map[string]any{"task_name": task.Name}
	if outcomeName != "" {
		payload["outcome"] = outcomeName
	}
	if err := e.publisher.Emit(ctx, &models.Event{
		WorkflowInstanceID: task.WorkflowInstanceID,
		EventType:          models.EventTaskCompleted,
		SourceEntityType:   models.EntityTaskInstance,
		SourceEntityID:     task.ID,
		ActorType:          models.ActorUser,
		Payload:            payload,
	}); err != nil {
		return nil, storeErr(err, "emit task_completed")
	}
	if len(enriched) > 0 {
		if err := e.publisher.Emit(ctx, &models.Event{
			WorkflowInstanceID: task.WorkflowInstanceID,
			EventType:          models.EventClientRecordEnriched,
			SourceEntityType:   models.EntityClient,
			SourceEntityID:     task.ClientID,
			ActorType:          models.ActorSystem,
			Payload:            map[string]any{"fields": enriched, "task_instance_id": task.ID},
		}); err != nil {
			return nil, storeErr(err, "emit client_record_enriched")
		}
	}

	if err := e.propagateCompletion(ctx, task, tmpl, outcomeName); err != nil {
		return nil, err
	}

	// Progress is recomputed over the entire workflow's tasks regardless of
	// which routing action ran.
	pct, err := e.recomputeProgress(ctx, task.WorkflowInstanceID)
	if err != nil {
		return nil, err
	}

	return &CompleteTaskResult{EnrichedFields: enriched, ProgressPercentage: pct}, nil
}

// enrichClient writes task field values with a save_to_client_field mapping
// into the client's metadata and emits one field_updated event per write.
func (e *Engine) enrichClient(ctx context.Context, task *models.TaskInstance, tmpl *models.TaskTemplate, fieldValues map[string]any) ([]string, error) {
	var enriched []string
	for _, def := range tmpl.DataFieldDefinitions {
		if def.SaveToClientField == "" {
			continue
		}
		value, ok := fieldValues[def.Code]
		if !ok {
			continue
		}
		if err := e.store.SetClientField(ctx, task.ClientID, def.SaveToClientField, value); err != nil {
			return nil, storeErr(err, "set client field")
		}
		if err := e.publisher.Emit(ctx, &models.Event{
			WorkflowInstanceID: task.WorkflowInstanceID,
			EventType:          models.EventFieldUpdated,
			SourceEntityType:   models.EntityClient,
			SourceEntityID:     task.ClientID,
			ActorType:          models.ActorSystem,
			Payload: map[string]any{
				"field":            def.SaveToClientField,
				"task_instance_id": task.ID,
			},
		}); err != nil {
			return nil, storeErr(err, "emit field_updated")
		}
		enriched = append(enriched, def.Code)
	}
	return enriched, nil
}

// propagateCompletion checks whether the owning deliverable is now complete
// and, if this caller wins the completion compare-and-swap, routes the
// selected outcome. A racing retry observes the deliverable already
// completed and stops, so deliverable_completed is emitted at most once.
func (e *Engine) propagateCompletion(ctx context.Context, task *models.TaskInstance, tmpl *models.TaskTemplate, outcomeName string) error {
	deliverable, err := e.store.GetDeliverableInstance(ctx, task.DeliverableInstanceID)
	if err != nil {
		return storeErr(err, "get deliverable instance")
	}
	siblings, err := e.store.ListDeliverableTasks(ctx, deliverable.ID)
	if err != nil {
		return storeErr(err, "list deliverable tasks")
	}
	for _, sibling := range siblings {
		if sibling.Status != models.TaskStatusCompleted {
			return nil
		}
	}

	won, err := e.store.CompleteDeliverable(ctx, deliverable.ID)
	if err != nil {
		return storeErr(err, "complete deliverable")
	}
	if !won {
		return nil
	}
	deliverable.Status = models.DeliverableStatusCompleted

	if err := e.publisher.Emit(ctx, &models.Event{
		WorkflowInstanceID: task.WorkflowInstanceID,
		EventType:          models.EventDeliverableCompleted,
		SourceEntityType:   models.EntityDeliverableInstance,
		SourceEntityID:     deliverable.ID,
		ActorType:          models.ActorSystem,
		Payload:            map[string]any{"deliverable_name": deliverable.Name},
	}); err != nil {
		return storeErr(err, "emit deliverable_completed")
	}

	action := models.ResolveOutcome(tmpl.OutcomeRules, outcomeName)
	return e.applyOutcome(ctx, deliverable, action, outcomeName)
}

// applyOutcome executes the resolved routing action. The five actions form
// a closed set; an unrecognized tag on a stored rule is rejected rather
// than guessed at.
func (e *Engine) applyOutcome(ctx context.Context, from *models.DeliverableInstance, action models.OutcomeAction, outcomeName string) error {
	switch action.Kind {
	case models.ActionContinue:
		return e.continueToNext(ctx, from)
	case models.ActionSkipToDeliverable:
		return e.skipToDeliverable(ctx, from, action.TargetDeliverableID, outcomeName)
	case models.ActionSkipToStage:
		return e.skipToStage(ctx, from, action.TargetStageID, outcomeName)
	case models.ActionEndWorkflow:
		return e.endWorkflow(ctx, from.WorkflowInstanceID)
	case models.ActionBlockWorkflow:
		return e.blockWorkflow(ctx, from.WorkflowInstanceID)
	default:
		return models.NewValidation("unknown outcome action %q", action.Kind)
	}
}

// continueToNext activates the deliverable with the next-higher sequence
// order in the same stage. When the stage's last deliverable completes,
// nothing happens here: stage advancement is a separate, caller-driven
// transition so external policy can gate it.
func (e *Engine) continueToNext(ctx context.Context, from *models.DeliverableInstance) error {
	deliverables, err := e.store.ListStageDeliverables(ctx, from.StageInstanceID)
	if err != nil {
		return storeErr(err, "list stage deliverables")
	}
	var next *models.DeliverableInstance
	for _, d := range deliverables {
		if d.SequenceOrder > from.SequenceOrder {
			next = d
			break
		}
	}
	if next == nil || next.Status != models.DeliverableStatusNotStarted {
		return nil
	}
	return e.activateDeliverable(ctx, next)
}

// skipToDeliverable activates the deliverable the outcome rule targets,
// regardless of stage. A target that resolves to no instance is a no-op:
// the transition is skipped and the request still succeeds, but the miss is
// logged because silent no-ops here hide authoring mistakes.
func (e *Engine) skipToDeliverable(ctx context.Context, from *models.DeliverableInstance, targetID, outcomeName string) error {
	deliverables, err := e.store.ListWorkflowDeliverables(ctx, from.WorkflowInstanceID)
	if err != nil {
		return storeErr(err, "list workflow deliverables")
	}
	var target *models.DeliverableInstance
	for _, d := range deliverables {
		if d.DeliverableTemplateID == targetID || d.ID == targetID {
			target = d
			break
		}
	}
	if target == nil {
		e.logger.Warn("outcome rule targets unknown deliverable, skipping transition",
			"outcome", outcomeName,
			"target_deliverable_id", targetID,
			"workflow_instance_id", from.WorkflowInstanceID,
		)
		return nil
	}
	if target.Status != models.DeliverableStatusNotStarted {
		return nil
	}
	return e.activateDeliverable(ctx, target)
}

// skipToStage activates the targeted stage and its first deliverable. Like
// skipToDeliverable, a missing target is logged and skipped.
func (e *Engine) skipToStage(ctx context.Context, from *models.DeliverableInstance, targetID, outcomeName string) error {
	stages, err := e.store.ListStageInstances(ctx, from.WorkflowInstanceID)
	if err != nil {
		return storeErr(err, "list stage instances")
	}
	var target *models.StageInstance
	for _, st := range stages {
		if st.StageTemplateID == targetID || st.ID == targetID {
			target = st
			break
		}
	}
	if target == nil {
		e.logger.Warn("outcome rule targets unknown stage, skipping transition",
			"outcome", outcomeName,
			"target_stage_id", targetID,
			"workflow_instance_id", from.WorkflowInstanceID,
		)
		return nil
	}

	now := time.Now().UTC()
	if target.Status != models.StageStatusInProgress {
		target.Status = models.StageStatusInProgress
		target.StartedAt = &now
		if err := e.store.UpdateStageInstance(ctx, target); err != nil {
			return storeErr(err, "update stage instance")
		}
	}

	w, err := e.store.GetWorkflowInstance(ctx, from.WorkflowInstanceID)
	if err != nil {
		return storeErr(err, "get workflow instance")
	}
	w.CurrentStageID = target.ID
	if err := e.store.UpdateWorkflowInstance(ctx, w); err != nil {
		return storeErr(err, "update workflow instance")
	}

	deliverables, err := e.store.ListStageDeliverables(ctx, target.ID)
	if err != nil {
		return storeErr(err, "list stage deliverables")
	}
	if len(deliverables) == 0 || deliverables[0].Status != models.DeliverableStatusNotStarted {
		return nil
	}
	return e.activateDeliverable(ctx, deliverables[0])
}

// endWorkflow terminates the workflow early. No further deliverables are
// activated.
func (e *Engine) endWorkflow(ctx context.Context, workflowInstanceID string) error {
	w, err := e.store.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		return storeErr(err, "get workflow instance")
	}
	now := time.Now().UTC()
	w.Status = models.WorkflowStatusCompleted
	w.CompletedAt = &now
	if err := e.store.UpdateWorkflowInstance(ctx, w); err != nil {
		return storeErr(err, "update workflow instance")
	}
	return storeErr(e.publisher.Emit(ctx, &models.Event{
		WorkflowInstanceID: w.ID,
		EventType:          models.EventWorkflowInstanceCompleted,
		SourceEntityType:   models.EntityWorkflowInstance,
		SourceEntityID:     w.ID,
		ActorType:          models.ActorSystem,
		Payload:            map[string]any{"reason": "end_workflow_outcome"},
	}), "emit workflow_instance_completed")
}

// blockWorkflow halts the workflow pending external intervention.
func (e *Engine) blockWorkflow(ctx context.Context, workflowInstanceID string) error {
	w, err := e.store.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		return storeErr(err, "get workflow instance")
	}
	w.Status = models.WorkflowStatusBlocked
	if err := e.store.UpdateWorkflowInstance(ctx, w); err != nil {
		return storeErr(err, "update workflow instance")
	}
	e.logger.Info("workflow blocked by outcome rule", "workflow_instance_id", w.ID)
	return nil
}
