// Package builtin assembles the handlers of the compiled-in catalog.
package builtin

import (
	"net/http"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/providers/googlecalendar"
	"tempo/internal/apps/providers/platformnotifications"
	"tempo/internal/apps/providers/s3storage"
	"tempo/internal/apps/providers/smtpemail"
	"tempo/internal/apps/providers/stripe"
	"tempo/internal/apps/providers/twiliosms"
	"tempo/internal/apps/providers/zoom"
)

// Config carries the platform-level provider settings. Per-company
// credentials live in instance data.
type Config struct {
	PublicBaseURL      string
	GoogleClientID     string
	GoogleClientSecret string
	ZoomClientID       string
	ZoomClientSecret   string
	HTTPClient         *http.Client
}

// Handlers returns one handler per entry of catalog.Defaults.
func Handlers(cfg Config) []capability.Handler {
	return []capability.Handler{
		googlecalendar.New(googlecalendar.Config{
			ClientID:       cfg.GoogleClientID,
			ClientSecret:   cfg.GoogleClientSecret,
			WebhookBaseURL: cfg.PublicBaseURL,
			HTTPClient:     cfg.HTTPClient,
		}),
		zoom.New(zoom.Config{
			ClientID:     cfg.ZoomClientID,
			ClientSecret: cfg.ZoomClientSecret,
			HTTPClient:   cfg.HTTPClient,
		}),
		smtpemail.New(nil),
		s3storage.New(nil),
		platformnotifications.New(),
		stripe.New(stripe.Config{HTTPClient: cfg.HTTPClient}),
		twiliosms.New(twiliosms.Config{
			WebhookBaseURL: cfg.PublicBaseURL,
			HTTPClient:     cfg.HTTPClient,
		}),
	}
}
