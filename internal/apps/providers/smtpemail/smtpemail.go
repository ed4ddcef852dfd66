// Package smtpemail sends booking emails through a company's own SMTP relay.
package smtpemail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/providers"
)

const Schema = "smtp-email/v1"

type data struct {
	Settings Settings `json:"settings"`
	Sent     int      `json:"sent"`
}

type Handler struct {
	mailer Mailer
}

func New(mailer Mailer) *Handler {
	if mailer == nil {
		mailer = RelayMailer{}
	}
	return &Handler{mailer: mailer}
}

func (h *Handler) AppName() string { return catalog.SMTPEmail }

type testEmailParams struct {
	To string `json:"to" validate:"required,email"`
}

type sendParams struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required,notblank,max=255"`
	Body    string `json:"body" validate:"required,max=65536"`
}

// ProcessStaticRequest validates relay settings before install.
func (h *Handler) ProcessStaticRequest(ctx context.Context, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	if action.Action != "validate" {
		return nil, providers.UnknownAction(action.Action)
	}
	var s Settings
	if err := providers.DecodeParams(action, &s); err != nil {
		return nil, err
	}
	if err := h.check(ctx, s); err != nil {
		return nil, err
	}
	return &capability.Result{Body: map[string]bool{"valid": true}}, nil
}

// ProcessRequest supports configure, send-test-email and send-email.
func (h *Handler) ProcessRequest(ctx context.Context, inst *models.Instance, body json.RawMessage) (*capability.Result, error) {
	action, err := providers.ParseAction(body)
	if err != nil {
		return nil, err
	}
	if action.Action == "configure" {
		var s Settings
		if err := providers.DecodeParams(action, &s); err != nil {
			return nil, err
		}
		if err := h.check(ctx, s); err != nil {
			return nil, err
		}
		stored, err := providers.EncodeData(Schema, data{Settings: s})
		if err != nil {
			return nil, err
		}
		connected := models.StatusConnected
		return &capability.Result{
			Body: map[string]string{"from": s.From},
			Delta: &models.InstanceDelta{
				Status:  &connected,
				Data:    stored,
				Account: &models.Account{ID: s.From, DisplayName: s.From},
			},
		}, nil
	}

	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	if d.Settings.Host == "" {
		return nil, providers.NotConnected(catalog.SMTPEmail)
	}
	var msg Message
	switch action.Action {
	case "send-test-email":
		var p testEmailParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		msg = Message{To: p.To, Subject: "Tempo test email", Body: "Your SMTP relay is connected to Tempo."}
	case "send-email":
		var p sendParams
		if err := providers.DecodeParams(action, &p); err != nil {
			return nil, err
		}
		msg = Message{To: p.To, Subject: p.Subject, Body: p.Body}
	default:
		return nil, providers.UnknownAction(action.Action)
	}
	if err := h.mailer.Send(ctx, d.Settings, msg); err != nil {
		return nil, classify(err)
	}
	d.Sent++
	stored, err := providers.EncodeData(Schema, d)
	if err != nil {
		return nil, err
	}
	return &capability.Result{
		Body:  map[string]bool{"sent": true},
		Delta: &models.InstanceDelta{Data: stored},
	}, nil
}

func (h *Handler) ProcessAppData(_ context.Context, inst *models.Instance) (any, error) {
	d, err := providers.DecodeData[data](inst, Schema)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"host":         d.Settings.Host,
		"port":         d.Settings.Port,
		"username":     d.Settings.Username,
		"password":     providers.Mask(d.Settings.Password),
		"from":         d.Settings.From,
		"implicit_tls": d.Settings.ImplicitTLS,
		"sent":         d.Sent,
	}, nil
}

func (h *Handler) check(ctx context.Context, s Settings) error {
	if err := h.mailer.Check(ctx, s); err != nil {
		return classify(err)
	}
	return nil
}

// classify declares credential failures; connection problems stay
// unclassified so they count against the relay.
func classify(err error) error {
	var aerr *authError
	if errors.As(err, &aerr) {
		out := capability.NewAppRequestError(http.StatusBadRequest, "invalid_credentials", "the SMTP relay rejected the credentials")
		out.Err = err
		return out
	}
	return err
}
