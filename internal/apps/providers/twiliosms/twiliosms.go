// Package twiliosms sends booking reminders by SMS through a company's
// Twilio account and tracks delivery through status callbacks.
package twiliosms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
)

const Schema = "twilio-sms/v1"

type Config struct {
	// WebhookBaseURL is the public origin Twilio posts status callbacks to.
	// It is part of the signed payload.
	WebhookBaseURL string
	HTTPClient     *http.Client
	Now            func() time.Time
}

type data struct {
	AccountSID   string    `json:"account_sid"`
	AuthToken    string    `json:"auth_token"`
	FromNumber   string    `json:"from_number"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	Sent         int       `json:"sent"`
	Delivered    int       `json:"delivered"`
	Failed       int       `json:"failed"`
	LastStatusAt time.Time `json:"last_status_at,omitempty"`
}

type Handler struct {
	cfg Config
}

func New(cfg Config) *Handler {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = providers.DefaultHTTPClient()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.WebhookBaseURL = strings.TrimRight(cfg.WebhookBaseURL, "/")
	return &Handler{cfg: cfg}
}

func (h *Handler) AppName() string { return catalog.TwilioSMS }

type credentials struct {
	AccountSID string `json:"account_sid" validate:"required,startswith=AC,len=34"`
	AuthToken  string `json:"auth_token" validate:"required,min=16"`
}

type configureParams struct {
	credentials
	FromNumber string `json:"from_number" validate:"required,e164"`
}

type sendParams struct {
	To   string `json:"to" validate:"required,e164"`
	Body string `json:"body" validate:"required,notblank,max=1600"`
}

func (h *Handler) ProcessStaticRequest(ctx context.Context, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	if action.Action != "validate" {
		return nil, providers.UnknownAction(action.Action)
	}
	var p credentials
	if err := providers.DecodeParams(action, &p); err != nil {
		return nil, err
	}
	name, err := h.account(ctx, p)
	if err != nil {
		return nil, err
	}
	return &capability.Result{Body: map[string]any{"valid": true, "friendly_name": name}}, nil
}

// ProcessRequest supports configure and send-sms.
func (h *Handler) ProcessRequest(ctx context.Context, inst *models.Instance, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	switch action.Action {
	case "configure":
		var p configureParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		name, err := h.account(ctx, p.credentials)
		if err != nil {
			return nil, err
		}
		stored, err := providers.EncodeData(Schema, data{
			AccountSID:   p.AccountSID,
			AuthToken:    p.AuthToken,
			FromNumber:   p.FromNumber,
			FriendlyName: name,
		})
		if err != nil {
			return nil, err
		}
		connected := models.StatusConnected
		return &capability.Result{
			Body: map[string]any{"friendly_name": name, "from_number": p.FromNumber},
			Delta: &models.InstanceDelta{
				Status:  &connected,
				Data:    stored,
				Account: &models.Account{ID: p.AccountSID, DisplayName: name},
			},
		}, nil
	case "send-sms":
		return h.send(ctx, inst, action)
	default:
		return nil, providers.UnknownAction(action.Action)
	}
}

func (h *Handler) send(ctx context.Context, inst *models.Instance, action *providers.ActionRequest) (*capability.Result, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	if d.AccountSID == "" {
		return nil, providers.NotConnected(catalog.TwilioSMS)
	}
	var p sendParams
	if err := providers.DecodeParams(action, &p); err != nil {
		return nil, err
	}
	params := &openapi.CreateMessageParams{}
	params.SetPathAccountSid(d.AccountSID)
	params.SetTo(p.To)
	params.SetFrom(d.FromNumber)
	params.SetBody(p.Body)
	if h.cfg.WebhookBaseURL != "" {
		params.SetStatusCallback(h.callbackURL(inst))
	}
	msg, err := h.rest(ctx, d.AccountSID, d.AuthToken).Api.CreateMessage(params)
	if err != nil {
		return nil, h.failure(ctx, err)
	}

	d.Sent++
	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	return &capability.Result{
		Body:  map[string]string{"sid": deref(msg.Sid), "status": deref(msg.Status)},
		Delta: &models.InstanceDelta{Data: stored},
	}, nil
}

// ProcessWebhook receives message status callbacks signed with the account
// auth token.
func (h *Handler) ProcessWebhook(_ context.Context, inst *models.Instance, req *capability.WebhookRequest) (*capability.RawResponse, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	if d.AuthToken == "" || h.cfg.WebhookBaseURL == "" {
		return nil, capability.NewAppRequestError(http.StatusNotFound, "webhooks_not_configured", "status callbacks are not configured")
	}
	params, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "invalid_payload", "callback body is not form encoded")
	}
	fields := make(map[string]string, len(params))
	for k := range params {
		fields[k] = params.Get(k)
	}
	validator := client.NewRequestValidator(d.AuthToken)
	if !validator.Validate(h.callbackURL(inst), fields, req.Header.Get("X-Twilio-Signature")) {
		return nil, capability.NewAppRequestError(http.StatusForbidden, "invalid_signature", "twilio signature mismatch")
	}

	switch params.Get("MessageStatus") {
	case "delivered":
		d.Delivered++
	case "failed", "undelivered":
		d.Failed++
	default:
		return &capability.RawResponse{Status: http.StatusNoContent}, nil
	}
	d.LastStatusAt = h.cfg.Now().UTC()
	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	return &capability.RawResponse{Status: http.StatusNoContent, Delta: &models.InstanceDelta{Data: stored}}, nil
}

func (h *Handler) ProcessAppData(_ context.Context, inst *models.Instance) (any, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account_sid":   d.AccountSID,
		"auth_token":    providers.Mask(d.AuthToken),
		"from_number":   d.FromNumber,
		"friendly_name": d.FriendlyName,
		"sent":          d.Sent,
		"delivered":     d.Delivered,
		"failed":        d.Failed,
	}, nil
}

func (h *Handler) account(ctx context.Context, c credentials) (string, error) {
	acct, err := h.rest(ctx, c.AccountSID, c.AuthToken).Api.FetchAccount(c.AccountSID)
	if err != nil {
		var terr *client.TwilioRestError
		if errors.As(err, &terr) && terr.Status == http.StatusUnauthorized {
			return "", capability.NewAppRequestError(http.StatusBadRequest, "invalid_credentials", "Twilio rejected the credentials")
		}
		return "", h.failure(ctx, err)
	}
	if status := deref(acct.Status); status != "" && status != "active" {
		return "", capability.NewAppRequestError(http.StatusBadRequest, "account_inactive", "the Twilio account is "+status)
	}
	return deref(acct.FriendlyName), nil
}

// rest builds a Twilio client for one company's account. Requests carry ctx.
func (h *Handler) rest(ctx context.Context, accountSID, authToken string) *twilio.RestClient {
	base := &client.Client{
		Credentials: client.NewCredentials(accountSID, authToken),
		HTTPClient:  providers.BindContext(ctx, h.cfg.HTTPClient),
	}
	base.SetAccountSid(accountSID)
	return twilio.NewRestClientWithParams(twilio.ClientParams{Client: base})
}

// failure classifies a Twilio API error by its HTTP status.
func (h *Handler) failure(ctx context.Context, err error) error {
	var terr *client.TwilioRestError
	if errors.As(err, &terr) && terr.Status > 0 {
		return providers.StatusError(catalog.TwilioSMS, terr.Status, []byte(terr.Message), err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("call %s: %w", catalog.TwilioSMS, err)
}

func (h *Handler) callbackURL(inst *models.Instance) string {
	return fmt.Sprintf("%s/webhooks/apps/%s/%s", h.cfg.WebhookBaseURL, inst.CompanyID, inst.ID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
