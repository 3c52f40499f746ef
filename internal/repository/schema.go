package repository

// Schema is the Postgres DDL for the engine's tables. Applied by the seed
// command and by the store integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_templates (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_template_versions (
	id UUID PRIMARY KEY,
	workflow_template_id UUID NOT NULL REFERENCES workflow_templates(id),
	version_number INT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (workflow_template_id, version_number)
);

CREATE TABLE IF NOT EXISTS stage_templates (
	id UUID PRIMARY KEY,
	version_id UUID NOT NULL REFERENCES workflow_template_versions(id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner_ref TEXT NOT NULL DEFAULT '',
	sequence_order INT NOT NULL,
	UNIQUE (version_id, sequence_order)
);

CREATE TABLE IF NOT EXISTS deliverable_templates (
	id UUID PRIMARY KEY,
	stage_template_id UUID NOT NULL REFERENCES stage_templates(id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	sequence_order INT NOT NULL,
	UNIQUE (stage_template_id, sequence_order)
);

CREATE TABLE IF NOT EXISTS task_templates (
	id UUID PRIMARY KEY,
	deliverable_template_id UUID NOT NULL REFERENCES deliverable_templates(id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	instructions TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	sequence_order INT NOT NULL,
	data_field_definitions JSONB,
	outcome_rules JSONB,
	UNIQUE (deliverable_template_id, sequence_order)
);

CREATE TABLE IF NOT EXISTS subitem_templates (
	id UUID PRIMARY KEY,
	task_template_id UUID NOT NULL REFERENCES task_templates(id),
	name TEXT NOT NULL,
	sequence_order INT NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id UUID PRIMARY KEY,
	template_id UUID NOT NULL REFERENCES workflow_templates(id),
	version_id UUID NOT NULL REFERENCES workflow_template_versions(id),
	client_id UUID NOT NULL REFERENCES clients(id),
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	current_stage_id TEXT NOT NULL DEFAULT '',
	progress_percentage INT NOT NULL DEFAULT 0,
	instance_map JSONB NOT NULL DEFAULT '{}',
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stage_instances (
	id UUID PRIMARY KEY,
	workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id),
	stage_template_id UUID NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner_ref TEXT NOT NULL DEFAULT '',
	sequence_order INT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS deliverable_instances (
	id UUID PRIMARY KEY,
	stage_instance_id UUID NOT NULL REFERENCES stage_instances(id),
	workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id),
	deliverable_template_id UUID NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	sequence_order INT NOT NULL,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_instances (
	id UUID PRIMARY KEY,
	deliverable_instance_id UUID NOT NULL REFERENCES deliverable_instances(id),
	workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id),
	task_template_id UUID NOT NULL,
	client_id UUID NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	instructions TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	sequence_order INT NOT NULL,
	status TEXT NOT NULL,
	field_values JSONB,
	checklist JSONB,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS workflow_events (
	id UUID PRIMARY KEY,
	workflow_instance_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	source_entity_type TEXT NOT NULL,
	source_entity_id TEXT NOT NULL,
	actor_type TEXT NOT NULL,
	actor_id TEXT NOT NULL DEFAULT '',
	payload JSONB,
	occurred_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_stage_instances_workflow ON stage_instances(workflow_instance_id);
CREATE INDEX IF NOT EXISTS idx_deliverable_instances_stage ON deliverable_instances(stage_instance_id);
CREATE INDEX IF NOT EXISTS idx_deliverable_instances_workflow ON deliverable_instances(workflow_instance_id);
CREATE INDEX IF NOT EXISTS idx_task_instances_deliverable ON task_instances(deliverable_instance_id);
CREATE INDEX IF NOT EXISTS idx_task_instances_workflow ON task_instances(workflow_instance_id);
CREATE INDEX IF NOT EXISTS idx_workflow_events_workflow ON workflow_events(workflow_instance_id, seq);
`
