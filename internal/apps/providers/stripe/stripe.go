// Package stripe takes payments for bookings through a company's own Stripe
// account, configured with API keys.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tidwall/gjson"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
	id "tempo/pkg/domain"
)

const Schema = "stripe/v1"

// Metadata keys stamped on every object the gateway creates, so account-wide
// webhooks can be routed back to an instance.
const (
	MetadataCompanyID  = "tempo_company_id"
	MetadataInstanceID = "tempo_instance_id"
)

type Config struct {
	// APIBaseURL overrides the Stripe API origin, without the /v1 prefix.
	APIBaseURL string
	HTTPClient *http.Client
	Now        func() time.Time
	// SignatureTolerance bounds the age of a signed webhook.
	SignatureTolerance time.Duration
}

type data struct {
	SecretKey      string    `json:"secret_key"`
	PublishableKey string    `json:"publishable_key,omitempty"`
	WebhookSecret  string    `json:"webhook_secret,omitempty"`
	AccountID      string    `json:"account_id"`
	LiveMode       bool      `json:"livemode"`
	LastEventID    string    `json:"last_event_id,omitempty"`
	LastEventType  string    `json:"last_event_type,omitempty"`
	LastEventAt    time.Time `json:"last_event_at,omitempty"`
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
	if cfg.SignatureTolerance == 0 {
		cfg.SignatureTolerance = 5 * time.Minute
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) AppName() string { return catalog.Stripe }

type keysParams struct {
	SecretKey      string `json:"secret_key" validate:"required,startswith=sk_|startswith=rk_"`
	PublishableKey string `json:"publishable_key" validate:"omitempty,startswith=pk_"`
	WebhookSecret  string `json:"webhook_secret" validate:"omitempty,startswith=whsec_"`
}

func displayName(a *stripeapi.Account) string {
	if a.Settings != nil && a.Settings.Dashboard != nil && a.Settings.Dashboard.DisplayName != "" {
		return a.Settings.Dashboard.DisplayName
	}
	if a.BusinessProfile != nil {
		return a.BusinessProfile.Name
	}
	return ""
}

// ProcessStaticRequest checks keys before anything is installed.
func (h *Handler) ProcessStaticRequest(ctx context.Context, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	if action.Action != "validate-keys" {
		return nil, providers.UnknownAction(action.Action)
	}
	var p keysParams
	if err := providers.DecodeParams(action, &p); err != nil {
		return nil, err
	}
	acct, err := h.account(ctx, p.SecretKey)
	if err != nil {
		return nil, err
	}
	return &capability.Result{Body: map[string]any{
		"valid":      true,
		"account_id": acct.ID,
		"livemode":   isLive(p.SecretKey),
	}}, nil
}

type paymentIntentParams struct {
	Amount      int64  `json:"amount" validate:"required,min=50"`
	Currency    string `json:"currency" validate:"required,len=3,alpha"`
	Description string `json:"description" validate:"max=500"`
	BookingID   string `json:"booking_id" validate:"omitempty,max=64"`
}

type refundParams struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required,startswith=pi_"`
	Amount          int64  `json:"amount" validate:"omitempty,min=1"`
}

// ProcessRequest supports configure, create-payment-intent and refund.
func (h *Handler) ProcessRequest(ctx context.Context, inst *models.Instance, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	if action.Action == "configure" {
		return h.configure(ctx, action)
	}

	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	if d.SecretKey == "" {
		return nil, providers.NotConnected(catalog.Stripe)
	}
	sc := h.client(d.SecretKey)
	switch action.Action {
	case "create-payment-intent":
		var p paymentIntentParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		params := &stripeapi.PaymentIntentParams{
			Amount:   stripeapi.Int64(p.Amount),
			Currency: stripeapi.String(strings.ToLower(p.Currency)),
			AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripeapi.Bool(true),
			},
		}
		params.Context = ctx
		params.AddMetadata(MetadataCompanyID, inst.CompanyID.String())
		params.AddMetadata(MetadataInstanceID, inst.ID.String())
		if p.Description != "" {
			params.Description = stripeapi.String(p.Description)
		}
		if p.BookingID != "" {
			params.AddMetadata("booking_id", p.BookingID)
		}
		intent, err := sc.PaymentIntents.New(params)
		if err != nil {
			return nil, h.failure(ctx, err)
		}
		return &capability.Result{Body: map[string]any{
			"id":              intent.ID,
			"client_secret":   intent.ClientSecret,
			"status":          string(intent.Status),
			"publishable_key": d.PublishableKey,
		}}, nil
	case "refund":
		var p refundParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		params := &stripeapi.RefundParams{PaymentIntent: stripeapi.String(p.PaymentIntentID)}
		params.Context = ctx
		if p.Amount > 0 {
			params.Amount = stripeapi.Int64(p.Amount)
		}
		refund, err := sc.Refunds.New(params)
		if err != nil {
			return nil, h.failure(ctx, err)
		}
		return &capability.Result{Body: map[string]any{
			"id":     refund.ID,
			"status": string(refund.Status),
			"amount": refund.Amount,
		}}, nil
	default:
		return nil, providers.UnknownAction(action.Action)
	}
}

func (h *Handler) configure(ctx context.Context, action *providers.ActionRequest) (*capability.Result, error) {
	var p keysParams
	if err := providers.DecodeParams(action, &p); err != nil {
		return nil, err
	}
	acct, err := h.account(ctx, p.SecretKey)
	if err != nil {
		return nil, err
	}
	stored, err := providers.EncodeData(Schema, data{
		SecretKey:      p.SecretKey,
		PublishableKey: p.PublishableKey,
		WebhookSecret:  p.WebhookSecret,
		AccountID:      acct.ID,
		LiveMode:       isLive(p.SecretKey),
	})
	if err != nil {
		return nil, err
	}
	connected := models.StatusConnected
	return &capability.Result{
		Body: map[string]any{"account_id": acct.ID, "livemode": isLive(p.SecretKey)},
		Delta: &models.InstanceDelta{
			Status:  &connected,
			Data:    stored,
			Account: &models.Account{ID: acct.ID, DisplayName: displayName(acct)},
		},
	}, nil
}

// WebhookTarget routes account-wide webhooks through the metadata the gateway
// stamped on the object. Objects created elsewhere are not routable.
func (h *Handler) WebhookTarget(_ context.Context, req *capability.WebhookRequest) (*capability.WebhookTarget, error) {
	if !gjson.ValidBytes(req.Body) {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "invalid_payload", "webhook body is not a stripe event")
	}
	md := gjson.GetBytes(req.Body, "data.object.metadata")
	companyID, err := id.ParseCompanyID(md.Get(MetadataCompanyID).String())
	if err != nil {
		return nil, nil
	}
	instanceID, err := id.ParseInstanceID(md.Get(MetadataInstanceID).String())
	if err != nil {
		return nil, nil
	}
	return &capability.WebhookTarget{CompanyID: companyID, InstanceID: instanceID}, nil
}

// ProcessWebhook verifies the Stripe-Signature header against the instance's
// signing secret and records the event.
func (h *Handler) ProcessWebhook(_ context.Context, inst *models.Instance, req *capability.WebhookRequest) (*capability.RawResponse, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	if d.WebhookSecret == "" {
		return nil, capability.NewAppRequestError(http.StatusNotFound, "webhooks_not_configured", "no signing secret configured")
	}
	ev, err := webhook.ConstructEventWithOptions(req.Body, req.Header.Get("Stripe-Signature"), d.WebhookSecret,
		webhook.ConstructEventOptions{Tolerance: h.cfg.SignatureTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, signatureFailure(err)
	}
	if ev.ID == d.LastEventID {
		return &capability.RawResponse{Status: http.StatusOK}, nil
	}

	d.LastEventID, d.LastEventType, d.LastEventAt = ev.ID, string(ev.Type), h.cfg.Now().UTC()
	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	delta := &models.InstanceDelta{Data: stored}
	if string(ev.Type) == "account.application.deauthorized" {
		failed := models.StatusFailed
		reason := "Stripe account disconnected"
		delta.Status, delta.LastError = &failed, &reason
	}
	return &capability.RawResponse{Status: http.StatusOK, Delta: delta}, nil
}

func (h *Handler) ProcessAppData(_ context.Context, inst *models.Instance) (any, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account_id":      d.AccountID,
		"livemode":        d.LiveMode,
		"secret_key":      providers.Mask(d.SecretKey),
		"publishable_key": d.PublishableKey,
		"webhook_secret":  providers.Mask(d.WebhookSecret),
		"last_event_type": d.LastEventType,
		"last_event_at":   d.LastEventAt,
	}, nil
}

// client builds a Stripe API client for one company's secret key.
func (h *Handler) client(secretKey string) *client.API {
	return client.New(secretKey, h.backends())
}

func (h *Handler) backends() *stripeapi.Backends {
	cfg := &stripeapi.BackendConfig{
		HTTPClient:        h.cfg.HTTPClient,
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	}
	if h.cfg.APIBaseURL != "" {
		cfg.URL = stripeapi.String(h.cfg.APIBaseURL)
	}
	api := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, cfg)
	return &stripeapi.Backends{API: api, Connect: api, Uploads: api}
}

// account fetches the account the key belongs to.
func (h *Handler) account(ctx context.Context, secretKey string) (*stripeapi.Account, error) {
	acct := &stripeapi.Account{}
	err := h.backends().API.Call(http.MethodGet, "/v1/account", secretKey, &stripeapi.Params{Context: ctx}, acct)
	if err != nil {
		var serr *stripeapi.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusUnauthorized {
			return nil, capability.NewAppRequestError(http.StatusBadRequest, "invalid_api_key", "Stripe rejected the secret key")
		}
		return nil, h.failure(ctx, err)
	}
	return acct, nil
}

// failure classifies a Stripe API error by its HTTP status.
func (h *Handler) failure(ctx context.Context, err error) error {
	var serr *stripeapi.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode > 0 {
		var body []byte
		if serr.LastResponse != nil {
			body = serr.LastResponse.RawJSON
		}
		return providers.StatusError(catalog.Stripe, serr.HTTPStatusCode, body, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("call %s: %w", catalog.Stripe, err)
}

// signatureFailure declares why a webhook failed verification.
func signatureFailure(err error) error {
	switch {
	case errors.Is(err, webhook.ErrTooOld):
		return capability.NewAppRequestError(http.StatusBadRequest, "signature_expired", "webhook timestamp outside tolerance")
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader), errors.Is(err, webhook.ErrNoValidSignature):
		return capability.NewAppRequestError(http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
	default:
		return capability.NewAppRequestError(http.StatusBadRequest, "invalid_payload", "webhook body is not a stripe event")
	}
}

func isLive(secretKey string) bool {
	return strings.Contains(secretKey, "_live_")
}
