// Package platformnotifications backs the hidden system app every company
// gets at provisioning. It carries the company's notification preferences.
package platformnotifications

import (
	"context"

	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
)

const Schema = "platform-notifications/v1"

// Preferences are stored by the notifications service. A fresh instance has
// none and reads as the defaults.
type Preferences struct {
	Email           bool     `json:"email"`
	InApp           bool     `json:"in_app"`
	DigestHour      int      `json:"digest_hour"`
	MutedCategories []string `json:"muted_categories"`
}

func Defaults() Preferences {
	return Preferences{Email: true, InApp: true, DigestHour: 8, MutedCategories: []string{}}
}

type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) AppName() string { return catalog.PlatformNotifications }

func (h *Handler) ProcessAppData(_ context.Context, inst *models.Instance) (any, error) {
	if inst.Data.IsZero() {
		return Defaults(), nil
	}
	p, err := providers.DecodeData[Preferences](inst, Schema)
	if err != nil {
		return nil, err
	}
	if p.MutedCategories == nil {
		p.MutedCategories = []string{}
	}
	return p, nil
}
