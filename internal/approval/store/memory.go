package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ratedesk/internal/approval/models"
	id "ratedesk/pkg/domain"
	"ratedesk/pkg/platform/locks"
	"ratedesk/pkg/platform/sentinel"
)

// WorkflowInMemory keeps workflow instances in a map, one per negotiation.
// Execute serializes writers per workflow through a keyed lock, mutates a
// clone, and persists it only when the callback succeeds.
type WorkflowInMemory struct {
	mu            sync.RWMutex
	items         map[id.WorkflowID]*models.Workflow
	byNegotiation map[id.NegotiationID]id.WorkflowID
	locks         locks.Manager
}

func NewWorkflowInMemory() *WorkflowInMemory {
	return &WorkflowInMemory{
		items:         make(map[id.WorkflowID]*models.Workflow),
		byNegotiation: make(map[id.NegotiationID]id.WorkflowID),
		locks:         locks.NewKeyed(),
	}
}

func (s *WorkflowInMemory) Create(ctx context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[w.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byNegotiation[w.NegotiationID]; exists {
		return sentinel.ErrConflict
	}
	s.items[w.ID] = w.Clone()
	s.byNegotiation[w.NegotiationID] = w.ID
	return nil
}

func (s *WorkflowInMemory) FindByID(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.items[workflowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return w.Clone(), nil
}

func (s *WorkflowInMemory) FindByNegotiation(ctx context.Context, negotiationID id.NegotiationID) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workflowID, ok := s.byNegotiation[negotiationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.items[workflowID].Clone(), nil
}

// Execute runs fn on the workflow inside its critical section. The stored
// instance is replaced only when fn returns nil.
func (s *WorkflowInMemory) Execute(ctx context.Context, workflowID id.WorkflowID, fn func(*models.Workflow) error) (*models.Workflow, error) {
	release, err := s.locks.Acquire(ctx, workflowID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	current, ok := s.items[workflowID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	work := current.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.items[workflowID] = work
	s.mu.Unlock()
	return work.Clone(), nil
}

// ListOverdue returns in-progress workflows whose active step deadline passed
// as of asOf, oldest deadline first.
func (s *WorkflowInMemory) ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]id.WorkflowID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		id       id.WorkflowID
		deadline time.Time
	}
	var due []candidate
	for _, w := range s.items {
		if w.Finished() {
			continue
		}
		deadline := w.NextDeadline()
		if deadline == nil || !asOf.After(*deadline) {
			continue
		}
		due = append(due, candidate{id: w.ID, deadline: *deadline})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]id.WorkflowID, len(due))
	for i, c := range due {
		ids[i] = c.id
	}
	return ids, nil
}

// TemplateInMemory keeps one workflow template per client.
type TemplateInMemory struct {
	mu    sync.RWMutex
	items map[id.ClientID]*models.WorkflowTemplate
}

func NewTemplateInMemory() *TemplateInMemory {
	return &TemplateInMemory{items: make(map[id.ClientID]*models.WorkflowTemplate)}
}

func (s *TemplateInMemory) Put(ctx context.Context, tpl *models.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tpl
	copied.Steps = append([]models.StepTemplate{}, tpl.Steps...)
	s.items[tpl.ClientID] = &copied
	return nil
}

func (s *TemplateInMemory) FindByClient(ctx context.Context, clientID id.ClientID) (*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.items[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *tpl
	copied.Steps = append([]models.StepTemplate{}, tpl.Steps...)
	return &copied, nil
}
