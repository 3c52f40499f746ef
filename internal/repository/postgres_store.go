package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"engagement-engine/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the engine DDL. Safe to call repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewNotFound(format, args...)
	}
	return err
}

// GetWorkflowTemplate retrieves a workflow template by id.
func (s *PostgresStore) GetWorkflowTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	err := s.db.QueryRow(ctx,
		"SELECT id, name, description, created_at, updated_at FROM workflow_templates WHERE id = $1", id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "workflow template %s not found", id)
	}
	return &t, nil
}

// LatestTemplateVersion returns the highest-numbered version of a template.
func (s *PostgresStore) LatestTemplateVersion(ctx context.Context, workflowTemplateID string) (*models.WorkflowTemplateVersion, error) {
	var v models.WorkflowTemplateVersion
	err := s.db.QueryRow(ctx,
		"SELECT id, workflow_template_id, version_number, status, created_at FROM workflow_template_versions WHERE workflow_template_id = $1 ORDER BY version_number DESC LIMIT 1",
		workflowTemplateID,
	).Scan(&v.ID, &v.WorkflowTemplateID, &v.VersionNumber, &v.Status, &v.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "no versions for workflow template %s", workflowTemplateID)
	}
	return &v, nil
}

// ListStageTemplates returns a version's stages ordered by sequence.
func (s *PostgresStore) ListStageTemplates(ctx context.Context, versionID string) ([]*models.StageTemplate, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, version_id, name, description, owner_ref, sequence_order FROM stage_templates WHERE version_id = $1 ORDER BY sequence_order",
		versionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*models.StageTemplate
	for rows.Next() {
		var st models.StageTemplate
		if err := rows.Scan(&st.ID, &st.VersionID, &st.Name, &st.Description, &st.OwnerRef, &st.SequenceOrder); err != nil {
			return nil, err
		}
		stages = append(stages, &st)
	}
	return stages, rows.Err()
}

// ListDeliverableTemplates returns a stage's deliverables ordered by sequence.
func (s *PostgresStore) ListDeliverableTemplates(ctx context.Context, stageTemplateID string) ([]*models.DeliverableTemplate, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, stage_template_id, name, description, sequence_order FROM deliverable_templates WHERE stage_template_id = $1 ORDER BY sequence_order",
		stageTemplateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliverables []*models.DeliverableTemplate
	for rows.Next() {
		var d models.DeliverableTemplate
		if err := rows.Scan(&d.ID, &d.StageTemplateID, &d.Name, &d.Description, &d.SequenceOrder); err != nil {
			return nil, err
		}
		deliverables = append(deliverables, &d)
	}
	return deliverables, rows.Err()
}

// ListTaskTemplates returns a deliverable's tasks ordered by sequence.
func (s *PostgresStore) ListTaskTemplates(ctx context.Context, deliverableTemplateID string) ([]*models.TaskTemplate, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, deliverable_template_id, name, description, instructions, priority, sequence_order, data_field_definitions, outcome_rules FROM task_templates WHERE deliverable_template_id = $1 ORDER BY sequence_order",
		deliverableTemplateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.TaskTemplate
	for rows.Next() {
		var t models.TaskTemplate
		if err := rows.Scan(&t.ID, &t.DeliverableTemplateID, &t.Name, &t.Description, &t.Instructions, &t.Priority, &t.SequenceOrder, &t.DataFieldDefinitions, &t.OutcomeRules); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// ListSubitemTemplates returns a task's subitems ordered by sequence.
func (s *PostgresStore) ListSubitemTemplates(ctx context.Context, taskTemplateID string) ([]*models.SubitemTemplate, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, task_template_id, name, sequence_order FROM subitem_templates WHERE task_template_id = $1 ORDER BY sequence_order",
		taskTemplateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subitems []*models.SubitemTemplate
	for rows.Next() {
		var si models.SubitemTemplate
		if err := rows.Scan(&si.ID, &si.TaskTemplateID, &si.Name, &si.SequenceOrder); err != nil {
			return nil, err
		}
		subitems = append(subitems, &si)
	}
	return subitems, rows.Err()
}

// GetTaskTemplate retrieves a task template by id.
func (s *PostgresStore) GetTaskTemplate(ctx context.Context, id string) (*models.TaskTemplate, error) {
	var t models.TaskTemplate
	err := s.db.QueryRow(ctx,
		"SELECT id, deliverable_template_id, name, description, instructions, priority, sequence_order, data_field_definitions, outcome_rules FROM task_templates WHERE id = $1", id,
	).Scan(&t.ID, &t.DeliverableTemplateID, &t.Name, &t.Description, &t.Instructions, &t.Priority, &t.SequenceOrder, &t.DataFieldDefinitions, &t.OutcomeRules)
	if err != nil {
		return nil, notFoundOr(err, "task template %s not found", id)
	}
	return &t, nil
}

// CreateWorkflowTemplate inserts a workflow template.
func (s *PostgresStore) CreateWorkflowTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO workflow_templates (id, name, description) VALUES ($1, $2, $3)",
		t.ID, t.Name, t.Description,
	)
	return err
}

// CreateTemplateVersion inserts a template version.
func (s *PostgresStore) CreateTemplateVersion(ctx context.Context, v *models.WorkflowTemplateVersion) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO workflow_template_versions (id, workflow_template_id, version_number, status) VALUES ($1, $2, $3, $4)",
		v.ID, v.WorkflowTemplateID, v.VersionNumber, v.Status,
	)
	return err
}

// CreateStageTemplate inserts a stage template.
func (s *PostgresStore) CreateStageTemplate(ctx context.Context, st *models.StageTemplate) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO stage_templates (id, version_id, name, description, owner_ref, sequence_order) VALUES ($1, $2, $3, $4, $5, $6)",
		st.ID, st.VersionID, st.Name, st.Description, st.OwnerRef, st.SequenceOrder,
	)
	return err
}

// CreateDeliverableTemplate inserts a deliverable template.
func (s *PostgresStore) CreateDeliverableTemplate(ctx context.Context, d *models.DeliverableTemplate) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO deliverable_templates (id, stage_template_id, name, description, sequence_order) VALUES ($1, $2, $3, $4, $5)",
		d.ID, d.StageTemplateID, d.Name, d.Description, d.SequenceOrder,
	)
	return err
}

// CreateTaskTemplate inserts a task template.
func (s *PostgresStore) CreateTaskTemplate(ctx context.Context, t *models.TaskTemplate) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO task_templates (id, deliverable_template_id, name, description, instructions, priority, sequence_order, data_field_definitions, outcome_rules) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		t.ID, t.DeliverableTemplateID, t.Name, t.Description, t.Instructions, t.Priority, t.SequenceOrder, t.DataFieldDefinitions, t.OutcomeRules,
	)
	return err
}

// CreateSubitemTemplate inserts a subitem template.
func (s *PostgresStore) CreateSubitemTemplate(ctx context.Context, si *models.SubitemTemplate) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO subitem_templates (id, task_template_id, name, sequence_order) VALUES ($1, $2, $3, $4)",
		si.ID, si.TaskTemplateID, si.Name, si.SequenceOrder,
	)
	return err
}

// CreateInstanceGraph persists a materialized instance tree in one
// transaction so a failed node never leaves a dangling parent.
func (s *PostgresStore) CreateInstanceGraph(ctx context.Context, g *models.InstanceGraph) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	w := g.Workflow
	if _, err := tx.Exec(ctx,
		"INSERT INTO workflow_instances (id, template_id, version_id, client_id, name, status, current_stage_id, progress_percentage, instance_map, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		w.ID, w.TemplateID, w.VersionID, w.ClientID, w.Name, w.Status, w.CurrentStageID, w.ProgressPercentage, w.InstanceMap, w.StartedAt,
	); err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}

	batch := &pgx.Batch{}
	for _, st := range g.Stages {
		batch.Queue(
			"INSERT INTO stage_instances (id, workflow_instance_id, stage_template_id, name, description, owner_ref, sequence_order, status, started_at, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
			st.ID, st.WorkflowInstanceID, st.StageTemplateID, st.Name, st.Description, st.OwnerRef, st.SequenceOrder, st.Status, st.StartedAt, st.CompletedAt,
		)
	}
	for _, d := range g.Deliverables {
		batch.Queue(
			"INSERT INTO deliverable_instances (id, stage_instance_id, workflow_instance_id, deliverable_template_id, name, description, sequence_order, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			d.ID, d.StageInstanceID, d.WorkflowInstanceID, d.DeliverableTemplateID, d.Name, d.Description, d.SequenceOrder, d.Status,
		)
	}
	for _, t := range g.Tasks {
		batch.Queue(
			"INSERT INTO task_instances (id, deliverable_instance_id, workflow_instance_id, task_template_id, client_id, name, description, instructions, priority, sequence_order, status, field_values, checklist) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
			t.ID, t.DeliverableInstanceID, t.WorkflowInstanceID, t.TaskTemplateID, t.ClientID, t.Name, t.Description, t.Instructions, t.Priority, t.SequenceOrder, t.Status, t.FieldValues, t.Checklist,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert instance graph: %w", err)
	}

	return tx.Commit(ctx)
}

// GetWorkflowInstance retrieves a workflow instance by id.
func (s *PostgresStore) GetWorkflowInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var w models.WorkflowInstance
	err := s.db.QueryRow(ctx,
		"SELECT id, template_id, version_id, client_id, name, status, current_stage_id, progress_percentage, instance_map, started_at, completed_at, created_at, updated_at FROM workflow_instances WHERE id = $1", id,
	).Scan(&w.ID, &w.TemplateID, &w.VersionID, &w.ClientID, &w.Name, &w.Status, &w.CurrentStageID, &w.ProgressPercentage, &w.InstanceMap, &w.StartedAt, &w.CompletedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "workflow instance %s not found", id)
	}
	return &w, nil
}

// UpdateWorkflowInstance persists the mutable fields of a workflow instance.
func (s *PostgresStore) UpdateWorkflowInstance(ctx context.Context, w *models.WorkflowInstance) error {
	_, err := s.db.Exec(ctx,
		"UPDATE workflow_instances SET status = $1, current_stage_id = $2, progress_percentage = $3, completed_at = $4, updated_at = now() WHERE id = $5",
		w.Status, w.CurrentStageID, w.ProgressPercentage, w.CompletedAt, w.ID,
	)
	return err
}

// GetStageInstance retrieves a stage instance by id.
func (s *PostgresStore) GetStageInstance(ctx context.Context, id string) (*models.StageInstance, error) {
	var st models.StageInstance
	err := s.db.QueryRow(ctx,
		"SELECT id, workflow_instance_id, stage_template_id, name, description, owner_ref, sequence_order, status, started_at, completed_at FROM stage_instances WHERE id = $1", id,
	).Scan(&st.ID, &st.WorkflowInstanceID, &st.StageTemplateID, &st.Name, &st.Description, &st.OwnerRef, &st.SequenceOrder, &st.Status, &st.StartedAt, &st.CompletedAt)
	if err != nil {
		return nil, notFoundOr(err, "stage instance %s not found", id)
	}
	return &st, nil
}

// ListStageInstances returns a workflow's stages ordered by sequence.
func (s *PostgresStore) ListStageInstances(ctx context.Context, workflowInstanceID string) ([]*models.StageInstance, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, workflow_instance_id, stage_template_id, name, description, owner_ref, sequence_order, status, started_at, completed_at FROM stage_instances WHERE workflow_instance_id = $1 ORDER BY sequence_order",
		workflowInstanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*models.StageInstance
	for rows.Next() {
		var st models.StageInstance
		if err := rows.Scan(&st.ID, &st.WorkflowInstanceID, &st.StageTemplateID, &st.Name, &st.Description, &st.OwnerRef, &st.SequenceOrder, &st.Status, &st.StartedAt, &st.CompletedAt); err != nil {
			return nil, err
		}
		stages = append(stages, &st)
	}
	return stages, rows.Err()
}

// UpdateStageInstance persists the mutable fields of a stage instance.
func (s *PostgresStore) UpdateStageInstance(ctx context.Context, st *models.StageInstance) error {
	_, err := s.db.Exec(ctx,
		"UPDATE stage_instances SET status = $1, started_at = $2, completed_at = $3 WHERE id = $4",
		st.Status, st.StartedAt, st.CompletedAt, st.ID,
	)
	return err
}

// GetDeliverableInstance retrieves a deliverable instance by id.
func (s *PostgresStore) GetDeliverableInstance(ctx context.Context, id string) (*models.DeliverableInstance, error) {
	var d models.DeliverableInstance
	err := s.db.QueryRow(ctx,
		"SELECT id, stage_instance_id, workflow_instance_id, deliverable_template_id, name, description, sequence_order, status FROM deliverable_instances WHERE id = $1", id,
	).Scan(&d.ID, &d.StageInstanceID, &d.WorkflowInstanceID, &d.DeliverableTemplateID, &d.Name, &d.Description, &d.SequenceOrder, &d.Status)
	if err != nil {
		return nil, notFoundOr(err, "deliverable instance %s not found", id)
	}
	return &d, nil
}

func (s *PostgresStore) listDeliverables(ctx context.Context, where, key string) ([]*models.DeliverableInstance, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, stage_instance_id, workflow_instance_id, deliverable_template_id, name, description, sequence_order, status FROM deliverable_instances WHERE "+where+" = $1 ORDER BY sequence_order",
		key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliverables []*models.DeliverableInstance
	for rows.Next() {
		var d models.DeliverableInstance
		if err := rows.Scan(&d.ID, &d.StageInstanceID, &d.WorkflowInstanceID, &d.DeliverableTemplateID, &d.Name, &d.Description, &d.SequenceOrder, &d.Status); err != nil {
			return nil, err
		}
		deliverables = append(deliverables, &d)
	}
	return deliverables, rows.Err()
}

// ListStageDeliverables returns a stage's deliverables ordered by sequence.
func (s *PostgresStore) ListStageDeliverables(ctx context.Context, stageInstanceID string) ([]*models.DeliverableInstance, error) {
	return s.listDeliverables(ctx, "stage_instance_id", stageInstanceID)
}

// ListWorkflowDeliverables returns every deliverable in a workflow.
func (s *PostgresStore) ListWorkflowDeliverables(ctx context.Context, workflowInstanceID string) ([]*models.DeliverableInstance, error) {
	return s.listDeliverables(ctx, "workflow_instance_id", workflowInstanceID)
}

// UpdateDeliverableInstance persists the mutable fields of a deliverable.
func (s *PostgresStore) UpdateDeliverableInstance(ctx context.Context, d *models.DeliverableInstance) error {
	_, err := s.db.Exec(ctx,
		"UPDATE deliverable_instances SET status = $1 WHERE id = $2",
		d.Status, d.ID,
	)
	return err
}

// CompleteDeliverable performs the completion compare-and-swap. Exactly one
// racing caller observes true; the rest see the row already completed.
func (s *PostgresStore) CompleteDeliverable(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE deliverable_instances SET status = $1 WHERE id = $2 AND status <> $1",
		models.DeliverableStatusCompleted, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetTaskInstance retrieves a task instance by id.
func (s *PostgresStore) GetTaskInstance(ctx context.Context, id string) (*models.TaskInstance, error) {
	var t models.TaskInstance
	err := s.db.QueryRow(ctx,
		"SELECT id, deliverable_instance_id, workflow_instance_id, task_template_id, client_id, name, description, instructions, priority, sequence_order, status, field_values, checklist, completed_at FROM task_instances WHERE id = $1", id,
	).Scan(&t.ID, &t.DeliverableInstanceID, &t.WorkflowInstanceID, &t.TaskTemplateID, &t.ClientID, &t.Name, &t.Description, &t.Instructions, &t.Priority, &t.SequenceOrder, &t.Status, &t.FieldValues, &t.Checklist, &t.CompletedAt)
	if err != nil {
		return nil, notFoundOr(err, "task instance %s not found", id)
	}
	return &t, nil
}

func (s *PostgresStore) listTasks(ctx context.Context, where, key string) ([]*models.TaskInstance, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, deliverable_instance_id, workflow_instance_id, task_template_id, client_id, name, description, instructions, priority, sequence_order, status, field_values, checklist, completed_at FROM task_instances WHERE "+where+" = $1 ORDER BY sequence_order",
		key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.TaskInstance
	for rows.Next() {
		var t models.TaskInstance
		if err := rows.Scan(&t.ID, &t.DeliverableInstanceID, &t.WorkflowInstanceID, &t.TaskTemplateID, &t.ClientID, &t.Name, &t.Description, &t.Instructions, &t.Priority, &t.SequenceOrder, &t.Status, &t.FieldValues, &t.Checklist, &t.CompletedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// ListDeliverableTasks returns a deliverable's tasks ordered by sequence.
func (s *PostgresStore) ListDeliverableTasks(ctx context.Context, deliverableInstanceID string) ([]*models.TaskInstance, error) {
	return s.listTasks(ctx, "deliverable_instance_id", deliverableInstanceID)
}

// ListWorkflowTasks returns every task in a workflow.
func (s *PostgresStore) ListWorkflowTasks(ctx context.Context, workflowInstanceID string) ([]*models.TaskInstance, error) {
	return s.listTasks(ctx, "workflow_instance_id", workflowInstanceID)
}

// UpdateTaskInstance persists the mutable fields of a task instance.
func (s *PostgresStore) UpdateTaskInstance(ctx context.Context, t *models.TaskInstance) error {
	_, err := s.db.Exec(ctx,
		"UPDATE task_instances SET status = $1, field_values = $2, checklist = $3, completed_at = $4 WHERE id = $5",
		t.Status, t.FieldValues, t.Checklist, t.CompletedAt, t.ID,
	)
	return err
}

// GetClient retrieves a client by id.
func (s *PostgresStore) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	err := s.db.QueryRow(ctx,
		"SELECT id, name, email, metadata, created_at, updated_at FROM clients WHERE id = $1", id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "client %s not found", id)
	}
	return &c, nil
}

// CreateClient inserts a client.
func (s *PostgresStore) CreateClient(ctx context.Context, c *models.Client) error {
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO clients (id, name, email, metadata) VALUES ($1, $2, $3, $4)",
		c.ID, c.Name, c.Email, c.Metadata,
	)
	return err
}

// SetClientField upserts one key into the client's metadata map.
func (s *PostgresStore) SetClientField(ctx context.Context, clientID, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode client field %s: %w", key, err)
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE clients SET metadata = jsonb_set(metadata, ARRAY[$1], $2::jsonb, true), updated_at = now() WHERE id = $3",
		key, string(encoded), clientID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFound("client %s not found", clientID)
	}
	return nil
}

// AppendEvent appends an event to the stream. Events are never updated or
// deleted.
func (s *PostgresStore) AppendEvent(ctx context.Context, e *models.Event) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO workflow_events (id, workflow_instance_id, event_type, source_entity_type, source_entity_id, actor_type, actor_id, payload, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		e.ID, e.WorkflowInstanceID, e.EventType, e.SourceEntityType, e.SourceEntityID, e.ActorType, e.ActorID, e.Payload, e.OccurredAt,
	)
	return err
}

// ListEvents returns a workflow's events in emission order.
func (s *PostgresStore) ListEvents(ctx context.Context, workflowInstanceID string) ([]*models.Event, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, workflow_instance_id, event_type, source_entity_type, source_entity_id, actor_type, actor_id, payload, occurred_at FROM workflow_events WHERE workflow_instance_id = $1 ORDER BY seq",
		workflowInstanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.WorkflowInstanceID, &e.EventType, &e.SourceEntityType, &e.SourceEntityID, &e.ActorType, &e.ActorID, &e.Payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
