package service

import (
	"context"
	"time"

	"tempo/internal/apps/models"
	"tempo/internal/apps/oauthstate"
	id "tempo/pkg/domain"
)

// Store interfaces define persistence contracts. Every call is scoped by
// company; a row owned by another company is reported as not found.

type InstanceStore interface {
	Create(ctx context.Context, inst *models.Instance, allowMultiple bool) error
	FindByID(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (*models.Instance, error)
	ListByCompany(ctx context.Context, companyID id.CompanyID) ([]*models.Instance, error)
	ListByAppNames(ctx context.Context, companyID id.CompanyID, appNames ...string) ([]*models.Instance, error)
	Update(ctx context.Context, inst *models.Instance, expectedVersion int64) error
	Delete(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) error
}

type PendingStore interface {
	Save(ctx context.Context, p *models.PendingAuthorization) error
	Consume(ctx context.Context, state string, now time.Time) (*models.PendingAuthorization, error)
}

// StateSigner mints and verifies OAuth state tokens.
type StateSigner interface {
	Mint(companyID id.CompanyID, appName string, now time.Time) (string, time.Time, error)
	Verify(state, appName string, now time.Time) (*oauthstate.Claims, error)
}

// Publisher receives lifecycle events after the state change is stored.
type Publisher interface {
	Publish(ctx context.Context, evt models.LifecycleEvent) error
}
