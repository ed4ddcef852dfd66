// Package googlecalendar connects a company to Google Calendar over OAuth and
// exposes calendar reads plus push-channel notifications.
package googlecalendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
	"tempo/pkg/secrets"
)

// Schema versions the instance data written by this handler.
const Schema = "google-calendar/v1"

const (
	defaultAPIBaseURL = "https://www.googleapis.com/calendar/v3/"
	defaultRevokeURL  = "https://oauth2.googleapis.com/revoke"
	calendarScope     = "https://www.googleapis.com/auth/calendar"
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

type Config struct {
	ClientID     string
	ClientSecret string
	// WebhookBaseURL is the public origin Google posts channel notifications to.
	WebhookBaseURL string
	// APIBaseURL overrides the Calendar API endpoint.
	APIBaseURL string
	RevokeURL      string
	Endpoint       oauth2.Endpoint
	HTTPClient     *http.Client
	Now            func() time.Time
}

// data is the stored payload. Only a bcrypt hash of the channel token is kept.
type data struct {
	Tokens           providers.Tokens `json:"tokens"`
	Email            string           `json:"email,omitempty"`
	ChannelID        string           `json:"channel_id,omitempty"`
	ChannelTokenHash string           `json:"channel_token_hash,omitempty"`
	ChannelExpiry    time.Time        `json:"channel_expiry,omitempty"`
	LastNotification time.Time        `json:"last_notification_at,omitempty"`
}

type Handler struct {
	cfg   Config
	oauth *providers.OAuthClient
	http  *http.Client
}

func New(cfg Config) *Handler {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaultRevokeURL
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = googleEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = providers.DefaultHTTPClient()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/") + "/"
	cfg.WebhookBaseURL = strings.TrimRight(cfg.WebhookBaseURL, "/")
	return &Handler{
		cfg:  cfg,
		http: cfg.HTTPClient,
		oauth: providers.NewOAuthClient(catalog.GoogleCalendar, oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{calendarScope},
		},
			providers.WithOAuthHTTPClient(cfg.HTTPClient),
			providers.WithAuthParams(oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")),
		),
	}
}

func (h *Handler) AppName() string { return catalog.GoogleCalendar }

func (h *Handler) RequestLoginURL(_ context.Context, req capability.LoginRequest) (string, error) {
	return h.oauth.LoginURL(req), nil
}

func (h *Handler) ProcessRedirect(ctx context.Context, req capability.RedirectRequest) (*capability.Connection, error) {
	tok, err := h.oauth.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	d := data{Tokens: providers.TokensFrom(tok)}
	if req.Instance != nil {
		// A reconnect keeps the push channel of the previous grant.
		if prev, err := providers.DecodeData[data](req.Instance, Schema); err == nil {
			d.ChannelID, d.ChannelTokenHash, d.ChannelExpiry = prev.ChannelID, prev.ChannelTokenHash, prev.ChannelExpiry
		}
	}

	svc, err := h.calendar(ctx, d.Tokens)
	if err != nil {
		return nil, err
	}
	primary, err := svc.Calendars.Get("primary").Context(ctx).Do()
	if err != nil {
		return nil, h.failure(ctx, err)
	}
	d.Email = primary.Id

	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	return &capability.Connection{
		Data:    *stored,
		Account: &models.Account{ID: primary.Id, DisplayName: primary.Summary},
	}, nil
}

type listEventsParams struct {
	CalendarID string    `json:"calendar_id" validate:"required,notblank"`
	From       time.Time `json:"from" validate:"required"`
	To         time.Time `json:"to" validate:"required,gtfield=From"`
	MaxResults int       `json:"max_results" validate:"omitempty,min=1,max=250"`
}

type watchParams struct {
	CalendarID string `json:"calendar_id" validate:"required,notblank"`
}

// ProcessRequest supports list-calendars, list-events and watch-calendar.
func (h *Handler) ProcessRequest(ctx context.Context, inst *models.Instance, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	tokens, persist, err := h.oauth.Fresh(ctx, d.Tokens)
	if err != nil {
		return nil, err
	}
	d.Tokens = tokens
	svc, err := h.calendar(ctx, tokens)
	if err != nil {
		return nil, err
	}

	var out any
	switch action.Action {
	case "list-calendars":
		out, err = h.listCalendars(ctx, svc)
	case "list-events":
		var p listEventsParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		out, err = h.listEvents(ctx, svc, p)
	case "watch-calendar":
		var p watchParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		out, err = h.watch(ctx, svc, inst, &d, p.CalendarID)
		persist = persist || err == nil
	default:
		return nil, providers.UnknownAction(action.Action)
	}
	if err != nil {
		return nil, err
	}

	res := &capability.Result{Body: out}
	if persist {
		stored, err := providers.EncodeData(Schema, d)
		if err != nil {
			return nil, err
		}
		res.Delta = &models.InstanceDelta{Data: stored}
	}
	return res, nil
}

type calendarEntry struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary,omitempty"`
}

func (h *Handler) listCalendars(ctx context.Context, svc *calendar.Service) (any, error) {
	list, err := svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, h.failure(ctx, err)
	}
	entries := make([]calendarEntry, 0, len(list.Items))
	for _, item := range list.Items {
		entries = append(entries, calendarEntry{ID: item.Id, Summary: item.Summary, Primary: item.Primary})
	}
	return map[string]any{"calendars": entries}, nil
}

func (h *Handler) listEvents(ctx context.Context, svc *calendar.Service, p listEventsParams) (any, error) {
	if p.MaxResults == 0 {
		p.MaxResults = 50
	}
	events, err := svc.Events.List(p.CalendarID).
		TimeMin(p.From.UTC().Format(time.RFC3339)).
		TimeMax(p.To.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(p.MaxResults)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, h.failure(ctx, err)
	}
	items := events.Items
	if items == nil {
		items = []*calendar.Event{}
	}
	return map[string]any{"events": items}, nil
}

// watch opens a push channel that posts to the instance webhook. The channel
// token is handed to Google once and only its hash is stored.
func (h *Handler) watch(ctx context.Context, svc *calendar.Service, inst *models.Instance, d *data, calendarID string) (any, error) {
	if h.cfg.WebhookBaseURL == "" {
		return nil, capability.NewAppRequestError(http.StatusConflict, "webhooks_disabled", "push notifications are not configured")
	}
	token, err := secrets.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := secrets.Hash(token)
	if err != nil {
		return nil, err
	}
	channelID := "tempo-" + inst.ID.String()
	channel, err := svc.Events.Watch(calendarID, &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: fmt.Sprintf("%s/webhooks/apps/%s/%s", h.cfg.WebhookBaseURL, inst.CompanyID, inst.ID),
		Token:   token,
	}).Context(ctx).Do()
	if err != nil {
		return nil, h.failure(ctx, err)
	}
	d.ChannelID = channelID
	d.ChannelTokenHash = hash
	if channel.Expiration > 0 {
		d.ChannelExpiry = time.UnixMilli(channel.Expiration).UTC()
	}
	return map[string]any{"channel_id": channelID, "expires_at": d.ChannelExpiry}, nil
}

// ProcessWebhook accepts channel notifications. Google only needs a 2xx; the
// handler records when the calendar last changed.
func (h *Handler) ProcessWebhook(_ context.Context, inst *models.Instance, req *capability.WebhookRequest) (*capability.RawResponse, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	if d.ChannelTokenHash == "" || req.Header.Get("X-Goog-Channel-ID") != d.ChannelID {
		return nil, capability.NewAppRequestError(http.StatusNotFound, "unknown_channel", "no such notification channel")
	}
	if err := secrets.Verify(req.Header.Get("X-Goog-Channel-Token"), d.ChannelTokenHash); err != nil {
		return nil, capability.NewAppRequestError(http.StatusUnauthorized, "invalid_channel_token", "channel token mismatch")
	}
	if req.Header.Get("X-Goog-Resource-State") == "sync" {
		return &capability.RawResponse{Status: http.StatusOK}, nil
	}
	d.LastNotification = h.cfg.Now().UTC()
	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	return &capability.RawResponse{Status: http.StatusOK, Delta: &models.InstanceDelta{Data: stored}}, nil
}

// ProcessAppData hides tokens from the admin UI.
func (h *Handler) ProcessAppData(_ context.Context, inst *models.Instance) (any, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"email":                d.Email,
		"access_token":         providers.Mask(d.Tokens.AccessToken),
		"has_refresh_token":    d.Tokens.RefreshToken != "",
		"token_expiry":         d.Tokens.Expiry,
		"channel_id":           d.ChannelID,
		"channel_expiry":       d.ChannelExpiry,
		"last_notification_at": d.LastNotification,
	}, nil
}

// OnDelete revokes the grant so the company disappears from the user's
// connected apps in Google.
func (h *Handler) OnDelete(ctx context.Context, inst *models.Instance) error {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return err
	}
	token := d.Tokens.RefreshToken
	if token == "" {
		token = d.Tokens.AccessToken
	}
	if token == "" {
		return nil
	}
	return h.oauth.Revoke(ctx, h.cfg.RevokeURL, url.Values{"token": {token}}, false)
}

// calendar builds a Calendar API client that authenticates with tok.
func (h *Handler) calendar(ctx context.Context, tok providers.Tokens) (*calendar.Service, error) {
	if tok.AccessToken == "" {
		return nil, providers.NotConnected(catalog.GoogleCalendar)
	}
	authed := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, h.http),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.AccessToken, TokenType: "Bearer"}))
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(authed), option.WithEndpoint(h.cfg.APIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("google calendar client: %w", err)
	}
	return svc, nil
}

// failure classifies a Calendar API error by its HTTP status.
func (h *Handler) failure(ctx context.Context, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return providers.StatusError(catalog.GoogleCalendar, gerr.Code, []byte(gerr.Body), err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("call %s: %w", catalog.GoogleCalendar, err)
}
