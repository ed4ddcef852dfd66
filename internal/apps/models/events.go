package models

import (
	"time"

	id "tempo/pkg/domain"
)

// EventType names a lifecycle transition of an instance.
type EventType string

const (
	EventConnected EventType = "app.connected"
	EventFailed    EventType = "app.failed"
	EventDeleted   EventType = "app.deleted"
)

// LifecycleEvent is published after an instance changes connection state.
type LifecycleEvent struct {
	Type       EventType     `json:"type"`
	CompanyID  id.CompanyID  `json:"company_id"`
	InstanceID id.InstanceID `json:"instance_id"`
	AppName    string        `json:"app_name"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
