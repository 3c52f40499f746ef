package models

import (
	"time"
)

// EventType identifies a state transition in the event stream. The
// vocabulary is consumed by external monitoring and automation; values are
// part of the wire contract and are never renamed.
type EventType string

const (
	EventWorkflowInstanceStarted   EventType = "workflow_instance_started"
	EventTaskReleased              EventType = "task_released"
	EventFieldUpdated              EventType = "field_updated"
	EventClientRecordEnriched      EventType = "client_record_enriched"
	EventTaskCompleted             EventType = "task_completed"
	EventDeliverableCompleted      EventType = "deliverable_completed"
	EventStageCompleted            EventType = "stage_completed"
	EventStageEntered              EventType = "stage_entered"
	EventWorkflowInstanceCompleted EventType = "workflow_instance_completed"
)

// ActorType identifies who caused a transition.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorAI     ActorType = "ai"
)

// EntityType names the entity a transition happened on.
type EntityType string

const (
	EntityWorkflowInstance    EntityType = "workflow_instance"
	EntityStageInstance       EntityType = "stage_instance"
	EntityDeliverableInstance EntityType = "deliverable_instance"
	EntityTaskInstance        EntityType = "task_instance"
	EntityClient              EntityType = "client"
)

// Event is an immutable, append-only record of one state transition.
// Events are never mutated or deleted; ordering within one request is
// emission order, no global order is guaranteed across requests.
type Event struct {
	ID                 string         `json:"id" db:"id"`
	WorkflowInstanceID string         `json:"workflow_instance_id" db:"workflow_instance_id"`
	EventType          EventType      `json:"event_type" db:"event_type"`
	SourceEntityType   EntityType     `json:"source_entity_type" db:"source_entity_type"`
	SourceEntityID     string         `json:"source_entity_id" db:"source_entity_id"`
	ActorType          ActorType      `json:"actor_type" db:"actor_type"`
	ActorID            string         `json:"actor_id,omitempty" db:"actor_id"`
	Payload            map[string]any `json:"payload,omitempty" db:"payload"`
	OccurredAt         time.Time      `json:"occurred_at" db:"occurred_at"`
}
