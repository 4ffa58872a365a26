package audit

import (
	"context"
	"sync"

	id "ratedesk/pkg/domain"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.NegotiationID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.NegotiationID][]Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.NegotiationID][]Event)
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.NegotiationID] = append(s.events[event.NegotiationID], event)
	return nil
}

func (s *InMemoryStore) ListByNegotiation(_ context.Context, negotiationID id.NegotiationID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[negotiationID]...), nil
}
