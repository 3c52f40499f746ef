package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"engagement-engine/backend/pkg/models"
)

// StartResult is the outcome of materializing a workflow instance.
type StartResult struct {
	Workflow      *models.WorkflowInstance `json:"workflow_instance"`
	StagesCreated int                      `json:"stages_created"`
}

// StartWorkflow materializes the full instance graph for a client from the
// highest available version of a template. Every stage, deliverable, and
// task instance is created eagerly so outcome-based jumps can target any
// deliverable later without lazy creation. The first stage and its first
// deliverable are activated; their tasks are created not_started and
// announced with task_released events.
func (e *Engine) StartWorkflow(ctx context.Context, clientID, workflowTemplateID string) (*StartResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.StartWorkflow")
	defer span.End()

	if clientID == "" {
		return nil, models.NewValidation("client_id is required")
	}
	if workflowTemplateID == "" {
		return nil, models.NewValidation("workflow_template_id is required")
	}

	graph, err := e.loadTemplateGraph(ctx, workflowTemplateID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow := &models.WorkflowInstance{
		ID:          uuid.New().String(),
		TemplateID:  graph.Template.ID,
		VersionID:   graph.Version.ID,
		ClientID:    clientID,
		Name:        graph.Template.Name,
		Status:      models.WorkflowStatusInProgress,
		InstanceMap: map[string]string{},
		StartedAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ig := &models.InstanceGraph{Workflow: workflow}
	var released []*models.TaskInstance

	for si, sn := range graph.Stages {
		stage := &models.StageInstance{
			ID:                 uuid.New().String(),
			WorkflowInstanceID: workflow.ID,
			StageTemplateID:    sn.ID,
			Name:               sn.Name,
			Description:        sn.Description,
			OwnerRef:           sn.OwnerRef,
			SequenceOrder:      sn.SequenceOrder,
			Status:             models.StageStatusNotStarted,
		}
		if si == 0 {
			stage.Status = models.StageStatusInProgress
			stage.StartedAt = &now
			workflow.CurrentStageID = stage.ID
		}
		stageKey := fmt.Sprintf("stage_%d", sn.SequenceOrder)
		workflow.InstanceMap[stageKey] = stage.ID
		ig.Stages = append(ig.Stages, stage)

		for di, dn := range sn.Deliverables {
			deliverable := &models.DeliverableInstance{
				ID:                    uuid.New().String(),
				StageInstanceID:       stage.ID,
				WorkflowInstanceID:    workflow.ID,
				DeliverableTemplateID: dn.ID,
				Name:                  dn.Name,
				Description:           dn.Description,
				SequenceOrder:         dn.SequenceOrder,
				Status:                models.DeliverableStatusNotStarted,
			}
			firstActive := si == 0 && di == 0
			if firstActive {
				deliverable.Status = models.DeliverableStatusInProgress
			}
			deliverableKey := fmt.Sprintf("%s_deliverable_%d", stageKey, dn.SequenceOrder)
			workflow.InstanceMap[deliverableKey] = deliverable.ID
			ig.Deliverables = append(ig.Deliverables, deliverable)

			for _, tn := range dn.Tasks {
				task := &models.TaskInstance{
					ID:                    uuid.New().String(),
					DeliverableInstanceID: deliverable.ID,
					WorkflowInstanceID:    workflow.ID,
					TaskTemplateID:        tn.ID,
					ClientID:              clientID,
					Name:                  tn.Name,
					Description:           tn.Description,
					Instructions:          tn.Instructions,
					Priority:              tn.Priority,
					SequenceOrder:         tn.SequenceOrder,
					Status:                models.TaskStatusNotStarted,
				}
				for _, sub := range tn.Subitems {
					task.Checklist = append(task.Checklist, models.ChecklistItem{
						Name:          sub.Name,
						SequenceOrder: sub.SequenceOrder,
					})
				}
				workflow.InstanceMap[fmt.Sprintf("%s_task_%d", deliverableKey, tn.SequenceOrder)] = task.ID
				ig.Tasks = append(ig.Tasks, task)
				if firstActive {
					released = append(released, task)
				}
			}
		}
	}

	if err := e.store.CreateInstanceGraph(ctx, ig); err != nil {
		return nil, storeErr(err, "create instance graph")
	}

	if err := e.publisher.Emit(ctx, &models.Event{
		WorkflowInstanceID: workflow.ID,
		EventType:          models.EventWorkflowInstanceStarted,
		SourceEntityType:   models.EntityWorkflowInstance,
		SourceEntityID:     workflow.ID,
		ActorType:          models.ActorSystem,
		Payload: map[string]any{
			"client_id":      clientID,
			"template_id":    graph.Template.ID,
			"version_number": graph.Version.VersionNumber,
		},
	}); err != nil {
		return nil, storeErr(err, "emit workflow_instance_started")
	}

	for _, task := range released {
		if err := e.publisher.Emit(ctx, &models.Event{
			WorkflowInstanceID: workflow.ID,
			EventType:          models.EventTaskReleased,
			SourceEntityType:   models.EntityTaskInstance,
			SourceEntityID:     task.ID,
			ActorType:          models.ActorSystem,
			Payload: map[string]any{
				"task_name":               task.Name,
				"deliverable_instance_id": task.DeliverableInstanceID,
			},
		}); err != nil {
			return nil, storeErr(err, "emit task_released")
		}
	}

	e.logger.Info("workflow instance started",
		"workflow_instance_id", workflow.ID,
		"client_id", clientID,
		"template_id", graph.Template.ID,
		"version", graph.Version.VersionNumber,
		"stages", len(ig.Stages),
		"tasks", len(ig.Tasks),
	)

	return &StartResult{Workflow: workflow, StagesCreated: len(ig.Stages)}, nil
}
