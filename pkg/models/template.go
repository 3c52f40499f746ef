// Package models defines the domain models for the engagement engine.
package models

import (
	"time"
)

// VersionStatus represents the publication state of a template version.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "draft"
	VersionStatusPublished VersionStatus = "published"
	VersionStatusArchived  VersionStatus = "archived"
)

// WorkflowTemplate is the stable concept a client engagement is built from.
// The template identifies the workflow; versions carry the actual graph.
type WorkflowTemplate struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// WorkflowTemplateVersion is one immutable revision of a template graph.
// Once referenced by an instance it is never edited again.
type WorkflowTemplateVersion struct {
	ID                 string        `json:"id" db:"id"`
	WorkflowTemplateID string        `json:"workflow_template_id" db:"workflow_template_id"`
	VersionNumber      int           `json:"version_number" db:"version_number"`
	Status             VersionStatus `json:"status" db:"status"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
}

// StageTemplate is the top tier of a template graph.
type StageTemplate struct {
	ID            string `json:"id" db:"id"`
	VersionID     string `json:"version_id" db:"version_id"`
	Name          string `json:"name" db:"name"`
	Description   string `json:"description" db:"description"`
	OwnerRef      string `json:"owner_ref,omitempty" db:"owner_ref"`
	SequenceOrder int    `json:"sequence_order" db:"sequence_order"`
}

// DeliverableTemplate groups the tasks that make up one unit of client value.
type DeliverableTemplate struct {
	ID              string `json:"id" db:"id"`
	StageTemplateID string `json:"stage_template_id" db:"stage_template_id"`
	Name            string `json:"name" db:"name"`
	Description     string `json:"description" db:"description"`
	SequenceOrder   int    `json:"sequence_order" db:"sequence_order"`
}

// TaskTemplate is the leaf unit of work in a template graph. Data field
// definitions describe what a task collects; outcome rules describe where
// completion routes next.
type TaskTemplate struct {
	ID                    string                `json:"id" db:"id"`
	DeliverableTemplateID string                `json:"deliverable_template_id" db:"deliverable_template_id"`
	Name                  string                `json:"name" db:"name"`
	Description           string                `json:"description" db:"description"`
	Instructions          string                `json:"instructions,omitempty" db:"instructions"`
	Priority              string                `json:"priority,omitempty" db:"priority"`
	SequenceOrder         int                   `json:"sequence_order" db:"sequence_order"`
	DataFieldDefinitions  []DataFieldDefinition `json:"data_field_definitions,omitempty" db:"data_field_definitions"`
	OutcomeRules          []OutcomeRule         `json:"outcome_rules,omitempty" db:"outcome_rules"`
}

// SubitemTemplate is an optional checklist entry under a task.
type SubitemTemplate struct {
	ID             string `json:"id" db:"id"`
	TaskTemplateID string `json:"task_template_id" db:"task_template_id"`
	Name           string `json:"name" db:"name"`
	SequenceOrder  int    `json:"sequence_order" db:"sequence_order"`
}

// DataFieldDefinition describes one value a task collects on completion.
// When SaveToClientField is set, the collected value is also written into
// the client record's metadata under that key.
type DataFieldDefinition struct {
	Code              string `json:"code"`
	Label             string `json:"label"`
	FieldType         string `json:"field_type"`
	Required          bool   `json:"required"`
	SaveToClientField string `json:"save_to_client_field,omitempty"`
}

// ActionKind is the routing action attached to an outcome rule.
type ActionKind string

const (
	ActionContinue          ActionKind = "continue"
	ActionSkipToDeliverable ActionKind = "skip_to_deliverable"
	ActionSkipToStage       ActionKind = "skip_to_stage"
	ActionEndWorkflow       ActionKind = "end_workflow"
	ActionBlockWorkflow     ActionKind = "block_workflow"
)

// OutcomeRule maps a human-selected task result to a routing action.
type OutcomeRule struct {
	OutcomeName         string     `json:"outcome_name"`
	Action              ActionKind `json:"action"`
	TargetDeliverableID string     `json:"target_deliverable_id,omitempty"`
	TargetStageID       string     `json:"target_stage_id,omitempty"`
}

// OutcomeAction is the resolved routing decision for a completed task.
// Resolution happens once, at rule-lookup time; callers switch on Kind.
type OutcomeAction struct {
	Kind                ActionKind
	TargetDeliverableID string
	TargetStageID       string
}

// ResolveOutcome selects the routing action for the outcome the caller
// picked. An empty name, or a name with no matching rule, resolves to the
// implicit default action: continue to the next deliverable in sequence.
func ResolveOutcome(rules []OutcomeRule, outcomeName string) OutcomeAction {
	if outcomeName != "" {
		for _, r := range rules {
			if r.OutcomeName == outcomeName {
				return OutcomeAction{
					Kind:                r.Action,
					TargetDeliverableID: r.TargetDeliverableID,
					TargetStageID:       r.TargetStageID,
				}
			}
		}
	}
	return OutcomeAction{Kind: ActionContinue}
}
