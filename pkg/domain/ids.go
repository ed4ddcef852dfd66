// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "tempo/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing an InstanceID where a CompanyID is expected.
type (
	CompanyID  uuid.UUID
	InstanceID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseCompanyID(s string) (CompanyID, error) {
	id, err := parseUUID(s, "company ID")
	return CompanyID(id), err
}

func ParseInstanceID(s string) (InstanceID, error) {
	id, err := parseUUID(s, "app instance ID")
	return InstanceID(id), err
}

// NewInstanceID returns a random instance identifier.
func NewInstanceID() InstanceID { return InstanceID(uuid.New()) }

// String methods - for logging and debugging.

func (id CompanyID) String() string  { return uuid.UUID(id).String() }
func (id InstanceID) String() string { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id CompanyID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id InstanceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic. Nil UUIDs are rejected: neither a
// tenant nor an installed app can legitimately be addressed by the zero id.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}

// Text marshalling - so IDs render as canonical strings in JSON and logs.

func (id CompanyID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id InstanceID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *CompanyID) UnmarshalText(b []byte) error {
	parsed, err := ParseCompanyID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *InstanceID) UnmarshalText(b []byte) error {
	parsed, err := ParseInstanceID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
