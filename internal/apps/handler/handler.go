// Package handler exposes the connected apps gateway over HTTP: the tenant
// admin API under /api/apps, provider webhooks under /webhooks/apps and the
// OAuth callback under /oauth/apps.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/httputil"
	request "tempo/pkg/platform/middleware/request"
	"tempo/pkg/platform/middleware/tenant"
	"tempo/pkg/platform/validation"
)

// Service defines the gateway operations the HTTP layer needs.
type Service interface {
	ListDefinitions(includeHidden bool) []catalog.Definition
	ListApps(ctx context.Context, companyID id.CompanyID) ([]*models.Instance, error)
	ListAppsByScope(ctx context.Context, companyID id.CompanyID, scopes ...models.Scope) ([]*models.Instance, error)
	ListAppsByName(ctx context.Context, companyID id.CompanyID, appName string) ([]*models.Instance, error)
	GetApp(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (*models.Instance, error)
	GetAppData(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (any, error)
	RequestLoginURL(ctx context.Context, companyID id.CompanyID, appName string) (string, error)
	RequestLoginURLForInstance(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (string, error)
	ProcessRequest(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, body json.RawMessage) (*capability.Result, error)
	ProcessStaticRequest(ctx context.Context, appName string, body json.RawMessage) (*capability.Result, error)
	ProcessFormRequest(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, form *multipart.Form) (*capability.Result, error)
	ProcessAppCall(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, subPath []string, r *http.Request) (*capability.RawResponse, error)
	InstallApp(ctx context.Context, companyID id.CompanyID, appName string) (*models.Instance, error)
	DeleteApp(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) error
	ProvisionSystemApps(ctx context.Context, companyID id.CompanyID) ([]*models.Instance, error)
	ProcessWebhook(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, req *capability.WebhookRequest) (*capability.RawResponse, error)
	ProcessAppWebhook(ctx context.Context, appName string, req *capability.WebhookRequest) (*capability.RawResponse, error)
	ProcessRedirect(ctx context.Context, appName string, query url.Values) (*models.Instance, error)
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	openerOrigin string
}

// Option configures a Handler.
type Option func(*Handler)

// WithOpenerOrigin restricts the origin the OAuth popup reports back to.
func WithOpenerOrigin(origin string) Option {
	return func(h *Handler) {
		if origin != "" {
			h.openerOrigin = origin
		}
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger, openerOrigin: "*"}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the tenant admin API. The caller must install
// tenant.RequireCompany in front of it.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/apps/definitions", h.HandleListDefinitions)
	r.Get("/api/apps", h.HandleListApps)
	r.Get("/api/apps/by/scope", h.HandleListByScope)
	r.Get("/api/apps/by/name/{appName}", h.HandleListByName)
	r.Get("/api/apps/login-url/{appName}", h.HandleLoginURLForApp)
	r.Post("/api/apps/static/{appName}/process", h.HandleStaticRequest)
	r.Post("/api/apps/provision-system", h.HandleProvisionSystemApps)
	r.Post("/api/apps/install/{appName}", h.HandleInstallApp)
	r.Get("/api/apps/{appId}", h.HandleGetApp)
	r.Delete("/api/apps/{appId}", h.HandleDeleteApp)
	r.Get("/api/apps/{appId}/data", h.HandleGetAppData)
	r.Get("/api/apps/{appId}/login-url", h.HandleLoginURLForInstance)
	r.Post("/api/apps/{appId}/process", h.HandleProcessRequest)
	r.Post("/api/apps/{appId}/form", h.HandleFormRequest)
	r.HandleFunc("/api/apps/{appId}/call/*", h.HandleAppCall)
}

// HandleListDefinitions returns the app catalog.
func (h *Handler) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	hidden, _ := strconv.ParseBool(r.URL.Query().Get("hidden"))
	httputil.WriteJSON(w, http.StatusOK, toDefinitionListResponse(h.service.ListDefinitions(hidden)))
}

func (h *Handler) HandleListApps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListApps(ctx, companyID)
	if err != nil {
		h.fail(w, r, "list apps failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toInstanceListResponse(list))
}

func (h *Handler) HandleListByScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	q := &ScopeQuery{Scopes: r.URL.Query()["scope"]}
	if err := httputil.PrepareRequest(q); err != nil {
		h.fail(w, r, "invalid scope query", err)
		return
	}
	list, err := h.service.ListAppsByScope(ctx, companyID, q.ToScopes()...)
	if err != nil {
		h.fail(w, r, "list apps by scope failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toInstanceListResponse(list))
}

func (h *Handler) HandleListByName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	appName, ok := h.appName(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListAppsByName(ctx, companyID, appName)
	if err != nil {
		h.fail(w, r, "list apps by name failed", err, "app_name", appName)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toInstanceListResponse(list))
}

func (h *Handler) HandleGetApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, instanceID, ok := h.instance(w, r)
	if !ok {
		return
	}
	inst, err := h.service.GetApp(ctx, companyID, instanceID)
	if err != nil {
		h.fail(w, r, "get app failed", err, "instance_id", instanceID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toInstanceResponse(inst))
}

func (h *Handler) HandleGetAppData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, instanceID, ok := h.instance(w, r)
	if !ok {
		return
	}
	data, err := h.service.GetAppData(ctx, companyID, instanceID)
	if err != nil {
		h.fail(w, r, "get app data failed", err, "instance_id", instanceID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &AppDataResponse{Data: data})
}

func (h *Handler) HandleLoginURLForInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, instanceID, ok := h.instance(w, r)
	if !ok {
		return
	}
	loginURL, err := h.service.RequestLoginURLForInstance(ctx, companyID, instanceID)
	if err != nil {
		h.fail(w, r, "request login url failed", err, "instance_id", instanceID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &LoginURLResponse{URL: loginURL})
}

func (h *Handler) HandleLoginURLForApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	appName, ok := h.appName(w, r)
	if !ok {
		return
	}
	loginURL, err := h.service.RequestLoginURL(ctx, companyID, appName)
	if err != nil {
		h.fail(w, r, "request login url failed", err, "app_name", appName)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &LoginURLResponse{URL: loginURL})
}

func (h *Handler) HandleProcessRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, instanceID, ok := h.instance(w, r)
	if !ok {
		return
	}
	body, err := httputil.ReadRawJSON(r)
	if err != nil {
		h.fail(w, r, "invalid app request body", err)
		return
	}
	res, err := h.service.ProcessRequest(ctx, companyID, instanceID, body)
	if err != nil {
		h.fail(w, r, "process app request failed", err, "instance_id", instanceID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res.Body)
}

func (h *Handler) HandleStaticRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appName, ok := h.appName(w, r)
	if !ok {
		return
	}
	body, err := httputil.ReadRawJSON(r)
	if err != nil {
		h.fail(w, r, "invalid app request body", err)
		return
	}
	res, err := h.service.ProcessStaticRequest(ctx, appName, body)
	if err != nil {
		h.fail(w, r, "process static app request failed", err, "app_name", appName)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res.Body)
}

func (h *Handler) HandleFormRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, instanceID, ok := h.instance(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(validation.MaxFormMemory); err != nil {
		h.fail(w, r, "invalid form", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	res, err := h.service.ProcessFormRequest(ctx, companyID, instanceID, r.MultipartForm)
	if err != nil {
		h.fail(w, r, "process form request failed", err, "instance_id", instanceID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res.Body)
}

// HandleAppCall forwards any method under /call/ to the app's sub-API and
// writes its response verbatim.
func (h *Handler) HandleAppCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, instanceID, ok := h.instance(w, r)
	if !ok {
		return
	}
	sub := &SubPath{Raw: chi.URLParam(r, "*")}
	if err := httputil.PrepareRequest(sub); err != nil {
		h.fail(w, r, "invalid app call path", err)
		return
	}
	resp, err := h.service.ProcessAppCall(ctx, companyID, instanceID, sub.Segments, r)
	if err != nil {
		h.fail(w, r, "app call failed", err, "instance_id", instanceID.String())
		return
	}
	writeRaw(w, resp)
}

func (h *Handler) HandleDeleteApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, instanceID, ok := h.instance(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteApp(ctx, companyID, instanceID); err != nil {
		h.fail(w, r, "delete app failed", err, "instance_id", instanceID.String())
		return
	}
	httputil.WriteSuccess(w)
}

func (h *Handler) HandleInstallApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	appName, ok := h.appName(w, r)
	if !ok {
		return
	}
	inst, err := h.service.InstallApp(ctx, companyID, appName)
	if err != nil {
		h.fail(w, r, "install app failed", err, "app_name", appName)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toInstanceResponse(inst))
}

func (h *Handler) HandleProvisionSystemApps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	list, err := h.service.ProvisionSystemApps(ctx, companyID)
	if err != nil {
		h.fail(w, r, "provision system apps failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toInstanceListResponse(list))
}

func (h *Handler) company(w http.ResponseWriter, r *http.Request) (id.CompanyID, bool) {
	companyID, ok := tenant.GetCompanyID(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "company context required"))
		return id.CompanyID{}, false
	}
	return companyID, true
}

func (h *Handler) instance(w http.ResponseWriter, r *http.Request) (id.CompanyID, id.InstanceID, bool) {
	companyID, ok := h.company(w, r)
	if !ok {
		return id.CompanyID{}, id.InstanceID{}, false
	}
	instanceID, err := parseInstanceID(chi.URLParam(r, "appId"))
	if err != nil {
		h.fail(w, r, "invalid app id", err)
		return id.CompanyID{}, id.InstanceID{}, false
	}
	return companyID, instanceID, true
}

func (h *Handler) appName(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := &AppNameParam{AppName: chi.URLParam(r, "appName")}
	if err := httputil.PrepareRequest(p); err != nil {
		h.fail(w, r, "invalid app name", err)
		return "", false
	}
	return p.AppName, true
}

// fail logs err with a redacted view of the request and writes the error
// envelope. Bodies and app data are never logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error, args ...any) {
	h.logFailure(r, msg, err, args...)
	httputil.WriteError(w, err)
}

func (h *Handler) logFailure(r *http.Request, msg string, err error, args ...any) {
	ctx := r.Context()
	status, _ := httputil.ErrorResponse(err)
	attrs := append([]any{
		"error", err,
		"status", status,
		"request_id", request.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
		"content_length", r.ContentLength,
	}, args...)
	if companyID, ok := tenant.GetCompanyID(ctx); ok {
		attrs = append(attrs, "company_id", companyID.String())
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
		return
	}
	h.logger.WarnContext(ctx, msg, attrs...)
}

// writeRaw writes a handler's passthrough response.
func writeRaw(w http.ResponseWriter, resp *capability.RawResponse) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}
