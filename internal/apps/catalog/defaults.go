package catalog

import "tempo/internal/apps/models"

// App names of the built-in catalog.
const (
	GoogleCalendar        = "google-calendar"
	Zoom                  = "zoom"
	Stripe                = "stripe"
	TwilioSMS             = "twilio-sms"
	SMTPEmail             = "smtp-email"
	S3Storage             = "s3-storage"
	PlatformNotifications = "platform-notifications"
)

// Defaults is the compiled-in catalog.
func Defaults() []Definition {
	return []Definition{
		{
			Name:        GoogleCalendar,
			DisplayName: "Google Calendar",
			Category:    "calendar",
			Scopes:      []models.Scope{models.ScopeCalendar},
			Type:        models.AppTypeUser,
		},
		{
			Name:        Zoom,
			DisplayName: "Zoom",
			Category:    "conferencing",
			Scopes:      []models.Scope{models.ScopeVideo},
			Type:        models.AppTypeUser,
		},
		{
			Name:                   Stripe,
			DisplayName:            "Stripe",
			Category:               "payment",
			Scopes:                 []models.Scope{models.ScopePayments},
			Type:                   models.AppTypeUser,
			AllowMultipleInstances: true,
		},
		{
			Name:        TwilioSMS,
			DisplayName: "Twilio SMS",
			Category:    "messaging",
			Scopes:      []models.Scope{models.ScopeMessaging},
			Type:        models.AppTypeUser,
		},
		{
			Name:        SMTPEmail,
			DisplayName: "SMTP Email",
			Category:    "messaging",
			Scopes:      []models.Scope{models.ScopeMessaging},
			Type:        models.AppTypeUser,
		},
		{
			Name:                   S3Storage,
			DisplayName:            "S3 Storage",
			Category:               "storage",
			Scopes:                 []models.Scope{models.ScopeStorage},
			Type:                   models.AppTypeUser,
			AllowMultipleInstances: true,
		},
		{
			Name:        PlatformNotifications,
			DisplayName: "Platform Notifications",
			Category:    "notifications",
			Scopes:      []models.Scope{models.ScopeMessaging},
			Type:        models.AppTypeSystem,
			IsHidden:    true,
		},
	}
}
