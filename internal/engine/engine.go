// Package engine implements workflow instantiation and progression: it
// materializes instance graphs from versioned templates, advances state as
// tasks complete, routes conditional outcomes, and emits the event stream.
package engine

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"engagement-engine/backend/internal/events"
	"engagement-engine/backend/internal/logging"
	"engagement-engine/backend/internal/repository"
	"engagement-engine/backend/pkg/models"
)

// Engine is the workflow instantiation and progression engine. One logical
// unit of work is processed per call; the store provides per-record atomic
// writes plus the deliverable-completion compare-and-swap.
type Engine struct {
	store     repository.Store
	publisher events.Publisher
	logger    *logging.Logger
	templates *cache.Cache
	tracer    trace.Tracer
}

// New creates an Engine. templateTTL bounds how long a loaded template
// graph is served from cache; template versions are immutable once
// referenced, so a stale read only delays seeing newly authored versions.
func New(store repository.Store, publisher events.Publisher, logger *logging.Logger, templateTTL time.Duration) *Engine {
	if templateTTL <= 0 {
		templateTTL = 5 * time.Minute
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		templates: cache.New(templateTTL, 2*templateTTL),
		tracer:    otel.Tracer("engagement-engine/engine"),
	}
}

// storeErr classifies a store failure: domain errors pass through, anything
// else becomes a dependency error (partial mutation possible, caller should
// re-query before retrying).
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if models.KindOf(err) != "" {
		return err
	}
	return models.NewDependency(err, "store: %s", op)
}

// templateGraph is a fully loaded template version tree.
type templateGraph struct {
	Template *models.WorkflowTemplate
	Version  *models.WorkflowTemplateVersion
	Stages   []*stageNode
}

type stageNode struct {
	*models.StageTemplate
	Deliverables []*deliverableNode
}

type deliverableNode struct {
	*models.DeliverableTemplate
	Tasks []*taskNode
}

type taskNode struct {
	*models.TaskTemplate
	Subitems []*models.SubitemTemplate
}

// loadTemplateGraph loads the highest version of a template and its full
// stage/deliverable/task/subitem tree, depth first. Graphs are cached by
// version id.
func (e *Engine) loadTemplateGraph(ctx context.Context, workflowTemplateID string) (*templateGraph, error) {
	tmpl, err := e.store.GetWorkflowTemplate(ctx, workflowTemplateID)
	if err != nil {
		return nil, storeErr(err, "get workflow template")
	}

	// Highest version number wins regardless of publication status.
	version, err := e.store.LatestTemplateVersion(ctx, workflowTemplateID)
	if err != nil {
		return nil, storeErr(err, "get latest template version")
	}

	if cached, ok := e.templates.Get(version.ID); ok {
		return cached.(*templateGraph), nil
	}

	graph := &templateGraph{Template: tmpl, Version: version}

	stages, err := e.store.ListStageTemplates(ctx, version.ID)
	if err != nil {
		return nil, storeErr(err, "list stage templates")
	}
	for _, st := range stages {
		sn := &stageNode{StageTemplate: st}
		deliverables, err := e.store.ListDeliverableTemplates(ctx, st.ID)
		if err != nil {
			return nil, storeErr(err, "list deliverable templates")
		}
		for _, d := range deliverables {
			dn := &deliverableNode{DeliverableTemplate: d}
			tasks, err := e.store.ListTaskTemplates(ctx, d.ID)
			if err != nil {
				return nil, storeErr(err, "list task templates")
			}
			for _, t := range tasks {
				subitems, err := e.store.ListSubitemTemplates(ctx, t.ID)
				if err != nil {
					return nil, storeErr(err, "list subitem templates")
				}
				dn.Tasks = append(dn.Tasks, &taskNode{TaskTemplate: t, Subitems: subitems})
			}
			sn.Deliverables = append(sn.Deliverables, dn)
		}
		graph.Stages = append(graph.Stages, sn)
	}

	e.templates.SetDefault(version.ID, graph)
	return graph, nil
}

// activateDeliverable transitions a deliverable to in_progress and releases
// its tasks. Activation is a status flip, not re-creation: every node
// already exists from materialization. Tasks already completed keep their
// state so progress accounting stays monotonic.
func (e *Engine) activateDeliverable(ctx context.Context, d *models.DeliverableInstance) error {
	d.Status = models.DeliverableStatusInProgress
	if err := e.store.UpdateDeliverableInstance(ctx, d); err != nil {
		return storeErr(err, "update deliverable instance")
	}

	tasks, err := e.store.ListDeliverableTasks(ctx, d.ID)
	if err != nil {
		return storeErr(err, "list deliverable tasks")
	}
	for _, t := range tasks {
		if t.Status == models.TaskStatusCompleted {
			continue
		}
		t.Status = models.TaskStatusNotStarted
		if err := e.store.UpdateTaskInstance(ctx, t); err != nil {
			return storeErr(err, "update task instance")
		}
		if err := e.publisher.Emit(ctx, &models.Event{
			WorkflowInstanceID: d.WorkflowInstanceID,
			EventType:          models.EventTaskReleased,
			SourceEntityType:   models.EntityTaskInstance,
			SourceEntityID:     t.ID,
			ActorType:          models.ActorSystem,
			Payload: map[string]any{
				"task_name":               t.Name,
				"deliverable_instance_id": d.ID,
			},
		}); err != nil {
			return storeErr(err, "emit task_released")
		}
	}
	return nil
}

// recomputeProgress recalculates workflow-level completion over every task
// in the workflow, not just the active branch, and persists it.
func (e *Engine) recomputeProgress(ctx context.Context, workflowInstanceID string) (int, error) {
	w, err := e.store.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		return 0, storeErr(err, "get workflow instance")
	}
	tasks, err := e.store.ListWorkflowTasks(ctx, workflowInstanceID)
	if err != nil {
		return 0, storeErr(err, "list workflow tasks")
	}
	w.ProgressPercentage = ProgressPercentage(tasks)
	if err := e.store.UpdateWorkflowInstance(ctx, w); err != nil {
		return 0, storeErr(err, "update workflow instance")
	}
	return w.ProgressPercentage, nil
}
