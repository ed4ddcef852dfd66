package models

import "slices"

// Status is the connection state of an installed app.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConnected, StatusFailed:
		return true
	default:
		return false
	}
}

// AppType distinguishes apps the platform installs itself from apps a
// company installs.
type AppType string

const (
	AppTypeSystem AppType = "system"
	AppTypeUser   AppType = "user"
)

// Scope is a capability family an app belongs to, used for listing.
type Scope string

const (
	ScopeCalendar  Scope = "calendar"
	ScopeVideo     Scope = "video"
	ScopePayments  Scope = "payments"
	ScopeMessaging Scope = "messaging"
	ScopeStorage   Scope = "storage"
	// ScopeUIComponents marks apps that contribute widgets to the booking UI.
	ScopeUIComponents Scope = "ui-components"
)

var knownScopes = []Scope{ScopeCalendar, ScopeVideo, ScopePayments, ScopeMessaging, ScopeStorage, ScopeUIComponents}

// Scopes returns every scope the platform knows.
func Scopes() []Scope {
	return slices.Clone(knownScopes)
}

func (s Scope) IsValid() bool {
	return slices.Contains(knownScopes, s)
}
