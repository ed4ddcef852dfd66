// Package instance persists installed app instances. Every read and write is
// keyed by company id; a row that belongs to another company is reported as
// not found.
package instance

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	"tempo/pkg/platform/sentinel"
)

type key struct {
	company  id.CompanyID
	instance id.InstanceID
}

type memoryRow struct {
	inst          *models.Instance
	allowMultiple bool
}

// InMemory stores instances in memory. The single-instance rule is enforced
// under the store lock.
type InMemory struct {
	mu   sync.RWMutex
	rows map[key]*memoryRow
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[key]*memoryRow)}
}

func (s *InMemory) Create(_ context.Context, inst *models.Instance, allowMultiple bool) error {
	if inst == nil {
		return fmt.Errorf("instance is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{inst.CompanyID, inst.ID}
	if _, exists := s.rows[k]; exists {
		return fmt.Errorf("instance id already exists: %w", sentinel.ErrAlreadyUsed)
	}
	if !allowMultiple {
		for rk, row := range s.rows {
			if rk.company == inst.CompanyID && row.inst.AppName == inst.AppName && !row.allowMultiple {
				return fmt.Errorf("app %s already installed: %w", inst.AppName, sentinel.ErrAlreadyUsed)
			}
		}
	}
	s.rows[k] = &memoryRow{inst: inst.Clone(), allowMultiple: allowMultiple}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, companyID id.CompanyID, instanceID id.InstanceID) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key{companyID, instanceID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return row.inst.Clone(), nil
}

func (s *InMemory) ListByCompany(_ context.Context, companyID id.CompanyID) ([]*models.Instance, error) {
	return s.list(companyID, nil), nil
}

func (s *InMemory) ListByAppNames(_ context.Context, companyID id.CompanyID, appNames ...string) ([]*models.Instance, error) {
	if len(appNames) == 0 {
		return []*models.Instance{}, nil
	}
	return s.list(companyID, appNames), nil
}

func (s *InMemory) list(companyID id.CompanyID, appNames []string) []*models.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Instance, 0)
	for k, row := range s.rows {
		if k.company != companyID {
			continue
		}
		if appNames != nil && !slices.Contains(appNames, row.inst.AppName) {
			continue
		}
		out = append(out, row.inst.Clone())
	}
	sortInstances(out)
	return out
}

// Update replaces the stored instance if its version still equals
// expectedVersion, and bumps the version on inst.
func (s *InMemory) Update(_ context.Context, inst *models.Instance, expectedVersion int64) error {
	if inst == nil {
		return fmt.Errorf("instance is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[key{inst.CompanyID, inst.ID}]
	if !ok {
		return sentinel.ErrNotFound
	}
	if row.inst.Version != expectedVersion {
		return fmt.Errorf("instance version %d, expected %d: %w", row.inst.Version, expectedVersion, sentinel.ErrConflict)
	}
	inst.Version = expectedVersion + 1
	row.inst = inst.Clone()
	return nil
}

func (s *InMemory) Delete(_ context.Context, companyID id.CompanyID, instanceID id.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{companyID, instanceID}
	if _, ok := s.rows[k]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.rows, k)
	return nil
}

func sortInstances(list []*models.Instance) {
	slices.SortFunc(list, func(a, b *models.Instance) int {
		return cmp.Or(
			a.CreatedAt.Compare(b.CreatedAt),
			strings.Compare(a.AppName, b.AppName),
			strings.Compare(a.ID.String(), b.ID.String()),
		)
	})
}
