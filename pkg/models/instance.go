package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusNotStarted WorkflowStatus = "not_started"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusBlocked    WorkflowStatus = "blocked"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
)

// StageStatus represents the lifecycle state of a stage instance.
type StageStatus string

const (
	StageStatusNotStarted StageStatus = "not_started"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
)

// DeliverableStatus represents the lifecycle state of a deliverable instance.
type DeliverableStatus string

const (
	DeliverableStatusNotStarted DeliverableStatus = "not_started"
	DeliverableStatusInProgress DeliverableStatus = "in_progress"
	DeliverableStatusCompleted  DeliverableStatus = "completed"
)

// TaskStatus represents the lifecycle state of a task instance.
type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "not_started"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
)

// WorkflowInstance is the per-client runtime materialization of a template
// version. InstanceMap is a derived index from template coordinates
// (stage_<n>, stage_<n>_deliverable_<m>, stage_<n>_deliverable_<m>_task_<k>)
// to instance ids; it is advisory, the graph's foreign keys are the source
// of truth.
type WorkflowInstance struct {
	ID                 string            `json:"id" db:"id"`
	TemplateID         string            `json:"template_id" db:"template_id"`
	VersionID          string            `json:"version_id" db:"version_id"`
	ClientID           string            `json:"client_id" db:"client_id"`
	Name               string            `json:"name" db:"name"`
	Status             WorkflowStatus    `json:"status" db:"status"`
	CurrentStageID     string            `json:"current_stage_id,omitempty" db:"current_stage_id"`
	ProgressPercentage int               `json:"progress_percentage" db:"progress_percentage"`
	InstanceMap        map[string]string `json:"instance_map" db:"instance_map"`
	StartedAt          *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

// StageInstance mirrors one StageTemplate for one workflow instance.
type StageInstance struct {
	ID                 string      `json:"id" db:"id"`
	WorkflowInstanceID string      `json:"workflow_instance_id" db:"workflow_instance_id"`
	StageTemplateID    string      `json:"stage_template_id" db:"stage_template_id"`
	Name               string      `json:"name" db:"name"`
	Description        string      `json:"description" db:"description"`
	OwnerRef           string      `json:"owner_ref,omitempty" db:"owner_ref"`
	SequenceOrder      int         `json:"sequence_order" db:"sequence_order"`
	Status             StageStatus `json:"status" db:"status"`
	StartedAt          *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// DeliverableInstance mirrors one DeliverableTemplate for one workflow
// instance.
type DeliverableInstance struct {
	ID                    string            `json:"id" db:"id"`
	StageInstanceID       string            `json:"stage_instance_id" db:"stage_instance_id"`
	WorkflowInstanceID    string            `json:"workflow_instance_id" db:"workflow_instance_id"`
	DeliverableTemplateID string            `json:"deliverable_template_id" db:"deliverable_template_id"`
	Name                  string            `json:"name" db:"name"`
	Description           string            `json:"description" db:"description"`
	SequenceOrder         int               `json:"sequence_order" db:"sequence_order"`
	Status                DeliverableStatus `json:"status" db:"status"`
}

// ChecklistItem is the instance-side counterpart of a SubitemTemplate,
// denormalized onto its owning task.
type ChecklistItem struct {
	Name          string `json:"name"`
	SequenceOrder int    `json:"sequence_order"`
	Done          bool   `json:"done"`
}

// TaskInstance is the leaf unit of work. FieldValues holds the values
// collected at completion time, keyed by field code.
type TaskInstance struct {
	ID                    string         `json:"id" db:"id"`
	DeliverableInstanceID string         `json:"deliverable_instance_id" db:"deliverable_instance_id"`
	WorkflowInstanceID    string         `json:"workflow_instance_id" db:"workflow_instance_id"`
	TaskTemplateID        string         `json:"task_template_id" db:"task_template_id"`
	ClientID              string         `json:"client_id" db:"client_id"`
	Name                  string         `json:"name" db:"name"`
	Description           string         `json:"description" db:"description"`
	Instructions          string         `json:"instructions,omitempty" db:"instructions"`
	Priority              string         `json:"priority,omitempty" db:"priority"`
	SequenceOrder         int            `json:"sequence_order" db:"sequence_order"`
	Status                TaskStatus     `json:"status" db:"status"`
	FieldValues           map[string]any `json:"field_values,omitempty" db:"field_values"`
	Checklist             []ChecklistItem `json:"checklist,omitempty" db:"checklist"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// InstanceGraph bundles a freshly materialized instance tree so the store
// can persist it in a single transactional batch.
type InstanceGraph struct {
	Workflow     *WorkflowInstance
	Stages       []*StageInstance
	Deliverables []*DeliverableInstance
	Tasks        []*TaskInstance
}

// Client is the engagement subject. Metadata is the enrichment target for
// task fields with a save_to_client_field mapping.
type Client struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Email     string         `json:"email,omitempty" db:"email"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}
