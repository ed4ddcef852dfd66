package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
)

// TestIDs provides fixed identifiers for deterministic test data.
var TestIDs = struct {
	CompanyA   id.CompanyID
	CompanyB   id.CompanyID
	InstanceA1 id.InstanceID
	InstanceB1 id.InstanceID
}{
	CompanyA:   id.CompanyID(uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001")),
	CompanyB:   id.CompanyID(uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000002")),
	InstanceA1: id.InstanceID(uuid.MustParse("aaaaaaaa-1111-4111-8111-000000000001")),
	InstanceB1: id.InstanceID(uuid.MustParse("bbbbbbbb-1111-4111-8111-000000000002")),
}

// FixedTime is the default "now" used by fixtures.
var FixedTime = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

// InstanceBuilder builds instances for tests.
type InstanceBuilder struct {
	inst models.Instance
}

// NewInstance starts a connected instance of appName for companyID with a random id.
func NewInstance(companyID id.CompanyID, appName string) *InstanceBuilder {
	return &InstanceBuilder{inst: models.Instance{
		ID:        id.NewInstanceID(),
		CompanyID: companyID,
		AppName:   appName,
		Status:    models.StatusConnected,
		CreatedAt: FixedTime,
		UpdatedAt: FixedTime,
		Version:   1,
	}}
}

func (b *InstanceBuilder) WithID(instanceID id.InstanceID) *InstanceBuilder {
	b.inst.ID = instanceID
	return b
}

func (b *InstanceBuilder) WithStatus(status models.Status) *InstanceBuilder {
	b.inst.Status = status
	return b
}

// WithData sets the payload from v, which is marshalled to JSON.
func (b *InstanceBuilder) WithData(schema string, v any) *InstanceBuilder {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	b.inst.Data = models.AppData{Schema: schema, Payload: raw}
	return b
}

func (b *InstanceBuilder) WithAccount(accountID string) *InstanceBuilder {
	b.inst.Account = &models.Account{ID: accountID, DisplayName: accountID}
	return b
}

func (b *InstanceBuilder) WithLastError(msg string) *InstanceBuilder {
	b.inst.LastError = msg
	return b
}

func (b *InstanceBuilder) CreatedAt(t time.Time) *InstanceBuilder {
	b.inst.CreatedAt = t
	b.inst.UpdatedAt = t
	return b
}

func (b *InstanceBuilder) Build() *models.Instance {
	return b.inst.Clone()
}
