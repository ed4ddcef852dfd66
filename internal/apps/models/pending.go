package models

import (
	"time"

	id "tempo/pkg/domain"
)

// PendingAuthorization binds an OAuth state token to the company and app that
// started the flow. It is consumed exactly once by the redirect.
type PendingAuthorization struct {
	State      string         `json:"state"`
	CompanyID  id.CompanyID   `json:"company_id"`
	AppName    string         `json:"app_name"`
	InstanceID *id.InstanceID `json:"instance_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

func (p *PendingAuthorization) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
