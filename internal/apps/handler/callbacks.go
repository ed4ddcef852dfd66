package handler

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tempo/internal/apps/capability"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/httputil"
	"tempo/pkg/platform/validation"
)

// RegisterWebhooks mounts the provider webhooks. They carry no company
// header: the instance webhook names the company in its path and the
// app-kind webhook resolves it from the payload.
func (h *Handler) RegisterWebhooks(r chi.Router) {
	r.HandleFunc("/webhooks/apps/kind/{appName}", h.HandleAppWebhook)
	r.HandleFunc("/webhooks/apps/{companyId}/{appId}", h.HandleInstanceWebhook)
}

// RegisterRedirects mounts the OAuth redirect. The company comes from the
// state.
func (h *Handler) RegisterRedirects(r chi.Router) {
	r.Get("/oauth/apps/{appName}/redirect", h.HandleOAuthRedirect)
}

// HandleInstanceWebhook delivers a webhook to one instance. Failures are an
// empty body with a status: 4xx tells the provider not to retry, 5xx to retry.
func (h *Handler) HandleInstanceWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, err := id.ParseCompanyID(chi.URLParam(r, "companyId"))
	if err != nil {
		h.webhookFail(w, r, dErrors.New(dErrors.CodeNotFound, "unknown webhook target"))
		return
	}
	instanceID, err := parseInstanceID(chi.URLParam(r, "appId"))
	if err != nil {
		h.webhookFail(w, r, dErrors.New(dErrors.CodeNotFound, "unknown webhook target"))
		return
	}
	req, err := bufferWebhook(r)
	if err != nil {
		h.webhookFail(w, r, err)
		return
	}
	resp, err := h.service.ProcessWebhook(ctx, companyID, instanceID, req)
	if err != nil {
		h.webhookFail(w, r, err, "company_id", companyID.String(), "instance_id", instanceID.String())
		return
	}
	writeRaw(w, resp)
}

// HandleAppWebhook delivers a webhook whose target the app derives from the
// payload.
func (h *Handler) HandleAppWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := &AppNameParam{AppName: chi.URLParam(r, "appName")}
	if err := httputil.PrepareRequest(p); err != nil {
		h.webhookFail(w, r, dErrors.New(dErrors.CodeNotFound, "unknown webhook target"))
		return
	}
	req, err := bufferWebhook(r)
	if err != nil {
		h.webhookFail(w, r, err)
		return
	}
	resp, err := h.service.ProcessAppWebhook(ctx, p.AppName, req)
	if err != nil {
		h.webhookFail(w, r, err, "app_name", p.AppName)
		return
	}
	writeRaw(w, resp)
}

func bufferWebhook(r *http.Request) (*capability.WebhookRequest, error) {
	body, err := httputil.ReadBody(r)
	if err != nil {
		return nil, err
	}
	return &capability.WebhookRequest{
		Method: r.Method,
		Header: r.Header.Clone(),
		Query:  r.URL.Query(),
		Body:   body,
	}, nil
}

func (h *Handler) webhookFail(w http.ResponseWriter, r *http.Request, err error, args ...any) {
	h.logFailure(r, "webhook failed", err, args...)
	status, _ := httputil.ErrorResponse(err)
	w.WriteHeader(status)
}

// redirectPage is shown in the OAuth popup. It reports the outcome to the
// opening window and closes itself.
var redirectPage = template.Must(template.New("redirect").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<p>{{.Message}}</p>
<script>
if (window.opener) { window.opener.postMessage({{.Payload}}, {{.Origin}}); }
window.close();
</script>
</body>
</html>
`))

type redirectView struct {
	Title   string
	Message string
	Origin  string
	Payload redirectPayload
}

type redirectPayload struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	AppName    string `json:"app_name"`
	InstanceID string `json:"instance_id,omitempty"`
	Code       string `json:"code,omitempty"`
}

// HandleOAuthRedirect completes an OAuth flow and renders the popup page.
func (h *Handler) HandleOAuthRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appName := chi.URLParam(r, "appName")
	view := redirectView{
		Origin:  h.openerOrigin,
		Payload: redirectPayload{Type: "tempo:app-connection", AppName: appName},
	}

	query := r.URL.Query()
	err := validation.CheckStringLength("state", query.Get("state"), validation.MaxStateLength)
	if err == nil {
		err = (&AppNameParam{AppName: appName}).Validate()
	}
	if err == nil {
		inst, perr := h.service.ProcessRedirect(ctx, appName, query)
		if perr == nil {
			view.Title = "Connected"
			view.Message = "Connected. You can close this window."
			view.Payload.Success = true
			view.Payload.InstanceID = inst.ID.String()
			renderRedirect(w, http.StatusOK, view)
			return
		}
		err = perr
	}

	h.logFailure(r, "oauth redirect failed", err, "app_name", appName)
	status, env := httputil.ErrorResponse(err)
	view.Title = "Connection failed"
	view.Message = "The app could not be connected. Close this window and try again."
	view.Payload.Code = env.Code
	renderRedirect(w, status, view)
}

func renderRedirect(w http.ResponseWriter, status int, view redirectView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = redirectPage.Execute(w, view)
}
