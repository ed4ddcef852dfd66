package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	companyID, err := id.ParseCompanyID("0b5a8c3e-7f41-4d2a-9c6e-1a2b3c4d5e6f")
	require.NoError(t, err)
	inst, err := NewInstance(id.NewInstanceID(), companyID, "zoom", StatusPending, now)
	require.NoError(t, err)
	return inst
}

func TestNewInstanceValidation(t *testing.T) {
	_, err := NewInstance(id.NewInstanceID(), id.CompanyID{}, "zoom", StatusPending, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	inst := newTestInstance(t)
	_, err = NewInstance(inst.ID, inst.CompanyID, "", StatusPending, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = NewInstance(inst.ID, inst.CompanyID, "zoom", Status("archived"), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	assert.Equal(t, int64(1), inst.Version)
}

func TestMarkFailedKeepsData(t *testing.T) {
	inst := newTestInstance(t)
	inst.MarkConnected(&AppData{Schema: "zoom/v1", Payload: json.RawMessage(`{"token":"a"}`)}, &Account{ID: "u1"}, now)

	later := now.Add(time.Minute)
	inst.MarkFailed("token revoked", later)

	assert.Equal(t, StatusFailed, inst.Status)
	assert.Equal(t, "token revoked", inst.LastError)
	assert.JSONEq(t, `{"token":"a"}`, string(inst.Data.Payload))
	assert.Equal(t, later, inst.UpdatedAt)
}

func TestApplyDelta(t *testing.T) {
	inst := newTestInstance(t)
	inst.MarkFailed("boom", now)

	connected := StatusConnected
	err := inst.Apply(&InstanceDelta{
		Status: &connected,
		Data:   &AppData{Schema: "zoom/v1", Payload: json.RawMessage(`{"n":1}`)},
	}, now.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, StatusConnected, inst.Status)
	assert.Empty(t, inst.LastError)
	assert.Equal(t, "zoom/v1", inst.Data.Schema)

	bad := Status("nope")
	err = inst.Apply(&InstanceDelta{Status: &bad}, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	assert.NoError(t, inst.Apply(nil, now))
}

func TestCloneDoesNotShareState(t *testing.T) {
	inst := newTestInstance(t)
	inst.MarkConnected(&AppData{Payload: json.RawMessage(`{"a":1}`)}, &Account{ID: "acct"}, now)

	c := inst.Clone()
	c.Data.Payload[2] = 'b'
	c.Account.ID = "other"

	assert.JSONEq(t, `{"a":1}`, string(inst.Data.Payload))
	assert.Equal(t, "acct", inst.Account.ID)
}

func TestPendingAuthorizationExpiry(t *testing.T) {
	p := &PendingAuthorization{ExpiresAt: now}
	assert.True(t, p.IsExpired(now))
	assert.False(t, p.IsExpired(now.Add(-time.Nanosecond)))
}
