// Package store persists client rate rules.
package store

import (
	"context"
	"sync"

	"ratedesk/internal/rules"
	"ratedesk/pkg/domain"
	"ratedesk/pkg/platform/sentinel"
)

// InMemory keeps one rule per client. Suitable for tests and single-instance
// development runs.
type InMemory struct {
	mu    sync.RWMutex
	rules map[domain.ClientID]*rules.RateRule
}

// NewInMemory constructs an empty in-memory rule store.
func NewInMemory() *InMemory {
	return &InMemory{rules: make(map[domain.ClientID]*rules.RateRule)}
}

// GetByClient returns the client's rule, or sentinel.ErrNotFound.
func (s *InMemory) GetByClient(_ context.Context, clientID domain.ClientID) (*rules.RateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRule(rule), nil
}

// Upsert stores or replaces the client's rule.
func (s *InMemory) Upsert(_ context.Context, rule *rules.RateRule) (*rules.RateRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rules[rule.ClientID]; ok {
		// Keep the original identity and creation time across replacements.
		rule.ID = existing.ID
		rule.CreatedAt = existing.CreatedAt
	}
	s.rules[rule.ClientID] = cloneRule(rule)
	return cloneRule(rule), nil
}

// cloneRule guards callers against aliasing the stored value.
func cloneRule(r *rules.RateRule) *rules.RateRule {
	clone := *r
	if r.Window != nil {
		w := *r.Window
		clone.Window = &w
	}
	return &clone
}
