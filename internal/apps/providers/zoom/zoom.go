// Package zoom connects a company's Zoom account and creates meetings for
// bookings.
package zoom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
)

const Schema = "zoom/v1"

const defaultAPIBaseURL = "https://api.zoom.us/v2"

var zoomEndpoint = oauth2.Endpoint{
	AuthURL:   "https://zoom.us/oauth/authorize",
	TokenURL:  "https://zoom.us/oauth/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

type Config struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	Endpoint     oauth2.Endpoint
	HTTPClient   *http.Client
}

type data struct {
	Tokens    providers.Tokens `json:"tokens"`
	UserID    string           `json:"user_id,omitempty"`
	Email     string           `json:"email,omitempty"`
	AccountID string           `json:"account_id,omitempty"`
}

type Handler struct {
	apiBase string
	oauth   *providers.OAuthClient
	http    *http.Client
}

func New(cfg Config) *Handler {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = zoomEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = providers.DefaultHTTPClient()
	}
	return &Handler{
		apiBase: cfg.APIBaseURL,
		http:    cfg.HTTPClient,
		oauth: providers.NewOAuthClient(catalog.Zoom, oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
		}, providers.WithOAuthHTTPClient(cfg.HTTPClient)),
	}
}

func (h *Handler) AppName() string { return catalog.Zoom }

func (h *Handler) RequestLoginURL(_ context.Context, req capability.LoginRequest) (string, error) {
	return h.oauth.LoginURL(req), nil
}

func (h *Handler) ProcessRedirect(ctx context.Context, req capability.RedirectRequest) (*capability.Connection, error) {
	tok, err := h.oauth.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	d := data{Tokens: providers.TokensFrom(tok)}

	var me struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		AccountID string `json:"account_id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := h.call(ctx, d.Tokens, http.MethodGet, "/users/me", nil, &me); err != nil {
		return nil, err
	}
	d.UserID, d.Email, d.AccountID = me.ID, me.Email, me.AccountID

	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	name := me.FirstName
	if me.LastName != "" {
		name += " " + me.LastName
	}
	return &capability.Connection{
		Data:    *stored,
		Account: &models.Account{ID: me.AccountID, DisplayName: name},
	}, nil
}

type createMeetingParams struct {
	Topic    string    `json:"topic" validate:"required,notblank,max=200"`
	StartAt  time.Time `json:"start_at" validate:"required"`
	Duration int       `json:"duration_minutes" validate:"required,min=1,max=1440"`
	Timezone string    `json:"timezone" validate:"omitempty,max=64"`
	Agenda   string    `json:"agenda" validate:"max=2000"`
}

type deleteMeetingParams struct {
	MeetingID string `json:"meeting_id" validate:"required,numeric"`
}

type meeting struct {
	ID       int64     `json:"id"`
	Topic    string    `json:"topic"`
	StartAt  time.Time `json:"start_time"`
	Duration int       `json:"duration"`
	JoinURL  string    `json:"join_url"`
	Password string    `json:"password,omitempty"`
}

// ProcessRequest supports create-meeting, list-meetings and delete-meeting.
func (h *Handler) ProcessRequest(ctx context.Context, inst *models.Instance, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	tokens, refreshed, err := h.oauth.Fresh(ctx, d.Tokens)
	if err != nil {
		return nil, err
	}

	var out any
	switch action.Action {
	case "create-meeting":
		var p createMeetingParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		var m meeting
		err = h.call(ctx, tokens, http.MethodPost, "/users/me/meetings", map[string]any{
			"topic":      p.Topic,
			"type":       2,
			"start_time": p.StartAt.UTC().Format(time.RFC3339),
			"duration":   p.Duration,
			"timezone":   p.Timezone,
			"agenda":     p.Agenda,
		}, &m)
		out = m
	case "list-meetings":
		var resp struct {
			Meetings []meeting `json:"meetings"`
		}
		err = h.call(ctx, tokens, http.MethodGet, "/users/me/meetings?type=upcoming", nil, &resp)
		out = map[string]any{"meetings": resp.Meetings}
	case "delete-meeting":
		var p deleteMeetingParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		err = h.call(ctx, tokens, http.MethodDelete, "/meetings/"+url.PathEscape(p.MeetingID), nil, nil)
		out = map[string]bool{"deleted": err == nil}
	default:
		return nil, providers.UnknownAction(action.Action)
	}
	if err != nil {
		return nil, err
	}

	res := &capability.Result{Body: out}
	if refreshed {
		d.Tokens = tokens
		stored, err := providers.EncodeData(Schema, d)
		if err != nil {
			return nil, err
		}
		res.Delta = &models.InstanceDelta{Data: stored}
	}
	return res, nil
}

func (h *Handler) ProcessAppData(_ context.Context, inst *models.Instance) (any, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"email":             d.Email,
		"account_id":        d.AccountID,
		"access_token":      providers.Mask(d.Tokens.AccessToken),
		"has_refresh_token": d.Tokens.RefreshToken != "",
		"token_expiry":      d.Tokens.Expiry,
	}, nil
}

func (h *Handler) call(ctx context.Context, tok providers.Tokens, method, path string, body, out any) error {
	req, err := providers.JSONRequest(ctx, method, h.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return providers.Do(ctx, h.http, catalog.Zoom, req, out)
}
