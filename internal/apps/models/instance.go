package models

import (
	"bytes"
	"encoding/json"
	"time"

	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
)

// AppData is the handler-owned payload of an instance. The gateway stores and
// returns it without decoding Payload; Schema names its shape and version
// (for example "google-calendar/v1") so handlers can migrate old rows.
type AppData struct {
	Schema  string          `json:"schema,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (d AppData) IsZero() bool {
	return d.Schema == "" && len(bytes.TrimSpace(d.Payload)) == 0
}

// Clone returns a copy that does not share the payload buffer.
func (d AppData) Clone() AppData {
	if d.Payload == nil {
		return AppData{Schema: d.Schema}
	}
	return AppData{Schema: d.Schema, Payload: append(json.RawMessage(nil), d.Payload...)}
}

// Account identifies the external account an instance is connected to.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Instance is one installation of an app for a company.
type Instance struct {
	ID        id.InstanceID `json:"id"`
	CompanyID id.CompanyID  `json:"company_id"`
	AppName   string        `json:"app_name"`
	Status    Status        `json:"status"`
	Account   *Account      `json:"account,omitempty"`
	Data      AppData       `json:"-"`
	LastError string        `json:"last_error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	// Version is bumped by the store on every successful update and used for
	// compare-and-swap writes.
	Version int64 `json:"-"`
}

// NewInstance validates and builds a fresh instance at version 1.
func NewInstance(instanceID id.InstanceID, companyID id.CompanyID, appName string, status Status, now time.Time) (*Instance, error) {
	if companyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "company id is required")
	}
	if appName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "app name is required")
	}
	if !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid instance status")
	}
	return &Instance{
		ID:        instanceID,
		CompanyID: companyID,
		AppName:   appName,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}, nil
}

// Clone returns a deep copy so stores never hand out shared state.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Data = i.Data.Clone()
	if i.Account != nil {
		acct := *i.Account
		c.Account = &acct
	}
	return &c
}

// MarkConnected records a successful authorization. A nil data keeps the
// current payload.
func (i *Instance) MarkConnected(data *AppData, account *Account, now time.Time) {
	i.Status = StatusConnected
	i.LastError = ""
	if data != nil {
		i.Data = data.Clone()
	}
	if account != nil {
		acct := *account
		i.Account = &acct
	}
	i.UpdatedAt = now
}

// MarkFailed records a failure and keeps the previous Data.
func (i *Instance) MarkFailed(reason string, now time.Time) {
	i.Status = StatusFailed
	i.LastError = reason
	i.UpdatedAt = now
}

// InstanceDelta is the change a handler asks the gateway to persist. Nil
// fields are left untouched.
type InstanceDelta struct {
	Status    *Status
	Data      *AppData
	Account   *Account
	LastError *string
}

func (d *InstanceDelta) IsEmpty() bool {
	return d == nil || (d.Status == nil && d.Data == nil && d.Account == nil && d.LastError == nil)
}

// Apply merges the delta into the instance. Moving to a non-failed status
// clears LastError unless the delta sets one.
func (i *Instance) Apply(d *InstanceDelta, now time.Time) error {
	if d.IsEmpty() {
		return nil
	}
	if d.Status != nil {
		if !d.Status.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, "handler returned an invalid status")
		}
		i.Status = *d.Status
		if *d.Status != StatusFailed {
			i.LastError = ""
		}
	}
	if d.Data != nil {
		i.Data = d.Data.Clone()
	}
	if d.Account != nil {
		acct := *d.Account
		i.Account = &acct
	}
	if d.LastError != nil {
		i.LastError = *d.LastError
	}
	i.UpdatedAt = now
	return nil
}
