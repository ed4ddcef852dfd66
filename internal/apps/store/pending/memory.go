// Package pending stores OAuth authorizations between login URL issuance and
// the provider redirect. A record is consumed at most once, and issuing a new
// login URL for the same company and app supersedes the previous one.
package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	"tempo/pkg/platform/sentinel"
)

type flowKey struct {
	company id.CompanyID
	app     string
}

// InMemory keeps pending authorizations in process memory.
type InMemory struct {
	mu      sync.Mutex
	byState map[string]*models.PendingAuthorization
	byFlow  map[flowKey]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		byState: make(map[string]*models.PendingAuthorization),
		byFlow:  make(map[flowKey]string),
	}
}

// Save stores p and drops any older authorization for the same flow.
func (s *InMemory) Save(_ context.Context, p *models.PendingAuthorization) error {
	if p == nil || p.State == "" {
		return fmt.Errorf("pending authorization state is required: %w", sentinel.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fk := flowKey{p.CompanyID, p.AppName}
	if old, ok := s.byFlow[fk]; ok {
		delete(s.byState, old)
	}
	cp := *p
	s.byState[p.State] = &cp
	s.byFlow[fk] = p.State
	return nil
}

// Consume removes and returns the authorization for state. An expired record
// is removed as well and reported as sentinel.ErrExpired.
func (s *InMemory) Consume(_ context.Context, state string, now time.Time) (*models.PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byState[state]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.byState, state)
	fk := flowKey{p.CompanyID, p.AppName}
	if s.byFlow[fk] == state {
		delete(s.byFlow, fk)
	}
	if p.IsExpired(now) {
		return nil, sentinel.ErrExpired
	}
	return p, nil
}

// DeleteExpired removes every record expired as of now.
func (s *InMemory) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for state, p := range s.byState {
		if !p.IsExpired(now) {
			continue
		}
		delete(s.byState, state)
		fk := flowKey{p.CompanyID, p.AppName}
		if s.byFlow[fk] == state {
			delete(s.byFlow, fk)
		}
		deleted++
	}
	return deleted, nil
}
