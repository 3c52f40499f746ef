// Package repository defines the persistence boundary of the engine.
package repository

import (
	"context"

	"engagement-engine/backend/pkg/models"
)

// Store is the persistence interface the engine runs against. Lookups for
// absent entities return a models.Error of kind not_found; every other
// failure is returned as-is for the caller to classify.
type Store interface {
	// Template graph. Read-only to the engine; the Create methods exist
	// for the authoring/seed flow and tests.
	GetWorkflowTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	// LatestTemplateVersion returns the version with the highest version
	// number regardless of publication status.
	LatestTemplateVersion(ctx context.Context, workflowTemplateID string) (*models.WorkflowTemplateVersion, error)
	ListStageTemplates(ctx context.Context, versionID string) ([]*models.StageTemplate, error)
	ListDeliverableTemplates(ctx context.Context, stageTemplateID string) ([]*models.DeliverableTemplate, error)
	ListTaskTemplates(ctx context.Context, deliverableTemplateID string) ([]*models.TaskTemplate, error)
	ListSubitemTemplates(ctx context.Context, taskTemplateID string) ([]*models.SubitemTemplate, error)
	GetTaskTemplate(ctx context.Context, id string) (*models.TaskTemplate, error)

	CreateWorkflowTemplate(ctx context.Context, t *models.WorkflowTemplate) error
	CreateTemplateVersion(ctx context.Context, v *models.WorkflowTemplateVersion) error
	CreateStageTemplate(ctx context.Context, s *models.StageTemplate) error
	CreateDeliverableTemplate(ctx context.Context, d *models.DeliverableTemplate) error
	CreateTaskTemplate(ctx context.Context, t *models.TaskTemplate) error
	CreateSubitemTemplate(ctx context.Context, s *models.SubitemTemplate) error

	// Instance graph. CreateInstanceGraph persists a whole materialized
	// tree atomically: either every node is visible or none is.
	CreateInstanceGraph(ctx context.Context, g *models.InstanceGraph) error
	GetWorkflowInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	UpdateWorkflowInstance(ctx context.Context, w *models.WorkflowInstance) error
	GetStageInstance(ctx context.Context, id string) (*models.StageInstance, error)
	ListStageInstances(ctx context.Context, workflowInstanceID string) ([]*models.StageInstance, error)
	UpdateStageInstance(ctx context.Context, s *models.StageInstance) error
	GetDeliverableInstance(ctx context.Context, id string) (*models.DeliverableInstance, error)
	ListStageDeliverables(ctx context.Context, stageInstanceID string) ([]*models.DeliverableInstance, error)
	ListWorkflowDeliverables(ctx context.Context, workflowInstanceID string) ([]*models.DeliverableInstance, error)
	UpdateDeliverableInstance(ctx context.Context, d *models.DeliverableInstance) error
	// CompleteDeliverable transitions a deliverable to completed with a
	// compare-and-swap: it reports true only for the caller that performed
	// the transition, false when the deliverable was already completed.
	CompleteDeliverable(ctx context.Context, id string) (bool, error)
	GetTaskInstance(ctx context.Context, id string) (*models.TaskInstance, error)
	ListDeliverableTasks(ctx context.Context, deliverableInstanceID string) ([]*models.TaskInstance, error)
	ListWorkflowTasks(ctx context.Context, workflowInstanceID string) ([]*models.TaskInstance, error)
	UpdateTaskInstance(ctx context.Context, t *models.TaskInstance) error

	// Clients.
	GetClient(ctx context.Context, id string) (*models.Client, error)
	CreateClient(ctx context.Context, c *models.Client) error
	// SetClientField upserts one key into the client's metadata map.
	SetClientField(ctx context.Context, clientID, key string, value any) error

	// Events. Append-only; ListEvents returns emission order.
	AppendEvent(ctx context.Context, e *models.Event) error
	ListEvents(ctx context.Context, workflowInstanceID string) ([]*models.Event, error)
}
