package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ratedesk/internal/negotiation/models"
	id "ratedesk/pkg/domain"
	"ratedesk/pkg/platform/locks"
	"ratedesk/pkg/platform/sentinel"
)

// InMemory keeps negotiations in a map. Execute serializes writers per
// negotiation through a keyed lock, mutates a clone, and persists it only
// when the callback succeeds, so a failed operation leaves no trace.
type InMemory struct {
	mu    sync.RWMutex
	items map[id.NegotiationID]*models.Negotiation
	locks locks.Manager
}

func NewInMemory() *InMemory {
	return &InMemory{
		items: make(map[id.NegotiationID]*models.Negotiation),
		locks: locks.NewKeyed(),
	}
}

func (s *InMemory) Create(ctx context.Context, n *models.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[n.ID]; exists {
		return sentinel.ErrConflict
	}
	s.items[n.ID] = n.Clone()
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[negotiationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return n.Clone(), nil
}

// Execute runs fn on the negotiation inside its per-negotiation critical
// section. The stored aggregate is replaced only when fn returns nil.
func (s *InMemory) Execute(ctx context.Context, negotiationID id.NegotiationID, fn func(*models.Negotiation) error) (*models.Negotiation, error) {
	release, err := s.locks.Acquire(ctx, negotiationID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	cur, ok := s.items[negotiationID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.items[negotiationID] = work
	s.mu.Unlock()
	return work.Clone(), nil
}

// ListExpirable returns ids of non-terminal negotiations whose submission
// deadline elapsed before asOf, oldest deadline first.
func (s *InMemory) ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]id.NegotiationID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type due struct {
		id       id.NegotiationID
		deadline time.Time
	}
	var dues []due
	for _, n := range s.items {
		if n.IsTerminal() {
			continue
		}
		if n.SubmissionDeadline.Before(asOf) {
			dues = append(dues, due{id: n.ID, deadline: n.SubmissionDeadline})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].deadline.Before(dues[j].deadline) })
	if limit > 0 && len(dues) > limit {
		dues = dues[:limit]
	}
	ids := make([]id.NegotiationID, len(dues))
	for i, d := range dues {
		ids[i] = d.id
	}
	return ids, nil
}
