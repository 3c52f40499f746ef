package repository

import (
	"context"
	"sort"
	"sync"

	"engagement-engine/backend/pkg/models"
)

// MemoryStore is a mutex-guarded in-memory implementation of the Store
// interface. It backs the engine's unit tests and the server's --in-memory
// development mode.
type MemoryStore struct {
	mu sync.Mutex

	templates    map[string]*models.WorkflowTemplate
	versions     map[string]*models.WorkflowTemplateVersion
	stageTmpls   map[string]*models.StageTemplate
	delivTmpls   map[string]*models.DeliverableTemplate
	taskTmpls    map[string]*models.TaskTemplate
	subitemTmpls map[string]*models.SubitemTemplate

	workflows    map[string]*models.WorkflowInstance
	stages       map[string]*models.StageInstance
	deliverables map[string]*models.DeliverableInstance
	tasks        map[string]*models.TaskInstance

	clients map[string]*models.Client
	events  []*models.Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:    map[string]*models.WorkflowTemplate{},
		versions:     map[string]*models.WorkflowTemplateVersion{},
		stageTmpls:   map[string]*models.StageTemplate{},
		delivTmpls:   map[string]*models.DeliverableTemplate{},
		taskTmpls:    map[string]*models.TaskTemplate{},
		subitemTmpls: map[string]*models.SubitemTemplate{},
		workflows:    map[string]*models.WorkflowInstance{},
		stages:       map[string]*models.StageInstance{},
		deliverables: map[string]*models.DeliverableInstance{},
		tasks:        map[string]*models.TaskInstance{},
		clients:      map[string]*models.Client{},
	}
}

// GetWorkflowTemplate retrieves a workflow template by id.
func (s *MemoryStore) GetWorkflowTemplate(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, models.NewNotFound("workflow template %s not found", id)
	}
	cp := *t
	return &cp, nil
}

// LatestTemplateVersion returns the highest-numbered version of a template.
func (s *MemoryStore) LatestTemplateVersion(_ context.Context, workflowTemplateID string) (*models.WorkflowTemplateVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.WorkflowTemplateVersion
	for _, v := range s.versions {
		if v.WorkflowTemplateID != workflowTemplateID {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	if latest == nil {
		return nil, models.NewNotFound("no versions for workflow template %s", workflowTemplateID)
	}
	cp := *latest
	return &cp, nil
}

// ListStageTemplates returns a version's stages ordered by sequence.
func (s *MemoryStore) ListStageTemplates(_ context.Context, versionID string) ([]*models.StageTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StageTemplate
	for _, st := range s.stageTmpls {
		if st.VersionID == versionID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// ListDeliverableTemplates returns a stage's deliverables ordered by sequence.
func (s *MemoryStore) ListDeliverableTemplates(_ context.Context, stageTemplateID string) ([]*models.DeliverableTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliverableTemplate
	for _, d := range s.delivTmpls {
		if d.StageTemplateID == stageTemplateID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// ListTaskTemplates returns a deliverable's tasks ordered by sequence.
func (s *MemoryStore) ListTaskTemplates(_ context.Context, deliverableTemplateID string) ([]*models.TaskTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TaskTemplate
	for _, t := range s.taskTmpls {
		if t.DeliverableTemplateID == deliverableTemplateID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// ListSubitemTemplates returns a task's subitems ordered by sequence.
func (s *MemoryStore) ListSubitemTemplates(_ context.Context, taskTemplateID string) ([]*models.SubitemTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SubitemTemplate
	for _, si := range s.subitemTmpls {
		if si.TaskTemplateID == taskTemplateID {
			cp := *si
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// GetTaskTemplate retrieves a task template by id.
func (s *MemoryStore) GetTaskTemplate(_ context.Context, id string) (*models.TaskTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.taskTmpls[id]
	if !ok {
		return nil, models.NewNotFound("task template %s not found", id)
	}
	cp := *t
	return &cp, nil
}

// CreateWorkflowTemplate inserts a workflow template.
func (s *MemoryStore) CreateWorkflowTemplate(_ context.Context, t *models.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

// CreateTemplateVersion inserts a template version.
func (s *MemoryStore) CreateTemplateVersion(_ context.Context, v *models.WorkflowTemplateVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.versions[v.ID] = &cp
	return nil
}

// CreateStageTemplate inserts a stage template.
func (s *MemoryStore) CreateStageTemplate(_ context.Context, st *models.StageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.stageTmpls[st.ID] = &cp
	return nil
}

// CreateDeliverableTemplate inserts a deliverable template.
func (s *MemoryStore) CreateDeliverableTemplate(_ context.Context, d *models.DeliverableTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.delivTmpls[d.ID] = &cp
	return nil
}

// CreateTaskTemplate inserts a task template.
func (s *MemoryStore) CreateTaskTemplate(_ context.Context, t *models.TaskTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.taskTmpls[t.ID] = &cp
	return nil
}

// CreateSubitemTemplate inserts a subitem template.
func (s *MemoryStore) CreateSubitemTemplate(_ context.Context, si *models.SubitemTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *si
	s.subitemTmpls[si.ID] = &cp
	return nil
}

// CreateInstanceGraph stores a materialized instance tree.
func (s *MemoryStore) CreateInstanceGraph(_ context.Context, g *models.InstanceGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := *g.Workflow
	s.workflows[w.ID] = &w
	for _, st := range g.Stages {
		cp := *st
		s.stages[st.ID] = &cp
	}
	for _, d := range g.Deliverables {
		cp := *d
		s.deliverables[d.ID] = &cp
	}
	for _, t := range g.Tasks {
		cp := *t
		s.tasks[t.ID] = &cp
	}
	return nil
}

// GetWorkflowInstance retrieves a workflow instance by id.
func (s *MemoryStore) GetWorkflowInstance(_ context.Context, id string) (*models.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, models.NewNotFound("workflow instance %s not found", id)
	}
	cp := *w
	return &cp, nil
}

// UpdateWorkflowInstance replaces a stored workflow instance.
func (s *MemoryStore) UpdateWorkflowInstance(_ context.Context, w *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[w.ID]; !ok {
		return models.NewNotFound("workflow instance %s not found", w.ID)
	}
	cp := *w
	s.workflows[w.ID] = &cp
	return nil
}

// GetStageInstance retrieves a stage instance by id.
func (s *MemoryStore) GetStageInstance(_ context.Context, id string) (*models.StageInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[id]
	if !ok {
		return nil, models.NewNotFound("stage instance %s not found", id)
	}
	cp := *st
	return &cp, nil
}

// ListStageInstances returns a workflow's stages ordered by sequence.
func (s *MemoryStore) ListStageInstances(_ context.Context, workflowInstanceID string) ([]*models.StageInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StageInstance
	for _, st := range s.stages {
		if st.WorkflowInstanceID == workflowInstanceID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// UpdateStageInstance replaces a stored stage instance.
func (s *MemoryStore) UpdateStageInstance(_ context.Context, st *models.StageInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[st.ID]; !ok {
		return models.NewNotFound("stage instance %s not found", st.ID)
	}
	cp := *st
	s.stages[st.ID] = &cp
	return nil
}

// GetDeliverableInstance retrieves a deliverable instance by id.
func (s *MemoryStore) GetDeliverableInstance(_ context.Context, id string) (*models.DeliverableInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliverables[id]
	if !ok {
		return nil, models.NewNotFound("deliverable instance %s not found", id)
	}
	cp := *d
	return &cp, nil
}

// ListStageDeliverables returns a stage's deliverables ordered by sequence.
func (s *MemoryStore) ListStageDeliverables(_ context.Context, stageInstanceID string) ([]*models.DeliverableInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliverableInstance
	for _, d := range s.deliverables {
		if d.StageInstanceID == stageInstanceID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// ListWorkflowDeliverables returns every deliverable in a workflow.
func (s *MemoryStore) ListWorkflowDeliverables(_ context.Context, workflowInstanceID string) ([]*models.DeliverableInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliverableInstance
	for _, d := range s.deliverables {
		if d.WorkflowInstanceID == workflowInstanceID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// UpdateDeliverableInstance replaces a stored deliverable instance.
func (s *MemoryStore) UpdateDeliverableInstance(_ context.Context, d *models.DeliverableInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliverables[d.ID]; !ok {
		return models.NewNotFound("deliverable instance %s not found", d.ID)
	}
	cp := *d
	s.deliverables[d.ID] = &cp
	return nil
}

// CompleteDeliverable performs the completion compare-and-swap under the
// store mutex.
func (s *MemoryStore) CompleteDeliverable(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliverables[id]
	if !ok {
		return false, models.NewNotFound("deliverable instance %s not found", id)
	}
	if d.Status == models.DeliverableStatusCompleted {
		return false, nil
	}
	d.Status = models.DeliverableStatusCompleted
	return true, nil
}

// GetTaskInstance retrieves a task instance by id.
func (s *MemoryStore) GetTaskInstance(_ context.Context, id string) (*models.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, models.NewNotFound("task instance %s not found", id)
	}
	cp := *t
	return &cp, nil
}

// ListDeliverableTasks returns a deliverable's tasks ordered by sequence.
func (s *MemoryStore) ListDeliverableTasks(_ context.Context, deliverableInstanceID string) ([]*models.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TaskInstance
	for _, t := range s.tasks {
		if t.DeliverableInstanceID == deliverableInstanceID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// ListWorkflowTasks returns every task in a workflow.
func (s *MemoryStore) ListWorkflowTasks(_ context.Context, workflowInstanceID string) ([]*models.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TaskInstance
	for _, t := range s.tasks {
		if t.WorkflowInstanceID == workflowInstanceID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// UpdateTaskInstance replaces a stored task instance.
func (s *MemoryStore) UpdateTaskInstance(_ context.Context, t *models.TaskInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return models.NewNotFound("task instance %s not found", t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// GetClient retrieves a client by id.
func (s *MemoryStore) GetClient(_ context.Context, id string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, models.NewNotFound("client %s not found", id)
	}
	cp := *c
	cp.Metadata = map[string]any{}
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, nil
}

// CreateClient inserts a client.
func (s *MemoryStore) CreateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}
	s.clients[c.ID] = &cp
	return nil
}

// SetClientField upserts one key into the client's metadata map.
func (s *MemoryStore) SetClientField(_ context.Context, clientID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return models.NewNotFound("client %s not found", clientID)
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[key] = value
	return nil
}

// AppendEvent appends an event to the stream.
func (s *MemoryStore) AppendEvent(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// ListEvents returns a workflow's events in emission order.
func (s *MemoryStore) ListEvents(_ context.Context, workflowInstanceID string) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, e := range s.events {
		if e.WorkflowInstanceID == workflowInstanceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
