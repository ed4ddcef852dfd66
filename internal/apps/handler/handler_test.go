package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	"tempo/internal/apps/oauthstate"
	"tempo/internal/apps/resolver"
	"tempo/internal/apps/service"
	instancestore "tempo/internal/apps/store/instance"
	pendingstore "tempo/internal/apps/store/pending"
	"tempo/pkg/platform/middleware/tenant"
	tu "tempo/pkg/testutil"
)

const (
	demoCalendar = "demo-calendar"
	demoFiles    = "demo-files"
)

type calendarHandler struct{ fail bool }

func (a *calendarHandler) AppName() string { return demoCalendar }

func (a *calendarHandler) ProcessRequest(_ context.Context, _ *models.Instance, body json.RawMessage) (*capability.Result, error) {
	if a.fail {
		return nil, errors.New("secret upstream detail")
	}
	return &capability.Result{Body: map[string]json.RawMessage{"echo": body}}, nil
}

func (a *calendarHandler) RequestLoginURL(_ context.Context, req capability.LoginRequest) (string, error) {
	return "https://provider.test/authorize?state=" + url.QueryEscape(req.State), nil
}

func (a *calendarHandler) ProcessRedirect(_ context.Context, req capability.RedirectRequest) (*capability.Connection, error) {
	if req.Query.Get("error") != "" {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "access_denied", "access denied")
	}
	return &capability.Connection{Data: models.AppData{Schema: "demo/v1", Payload: json.RawMessage(`{"t":1}`)}}, nil
}

func (a *calendarHandler) ProcessWebhook(_ context.Context, _ *models.Instance, req *capability.WebhookRequest) (*capability.RawResponse, error) {
	if string(req.Body) == "bad" {
		return nil, capability.NewAppRequestError(http.StatusUnauthorized, "bad_signature", "bad signature")
	}
	return &capability.RawResponse{Status: http.StatusNoContent}, nil
}

type filesHandler struct{}

func (filesHandler) AppName() string { return demoFiles }

func (filesHandler) ProcessFormRequest(_ context.Context, _ *models.Instance, form *multipart.Form) (*capability.Result, error) {
	return &capability.Result{Body: map[string]int{"files": len(form.File["file"])}}, nil
}

func (filesHandler) ProcessAppCall(_ context.Context, _ *models.Instance, sub []string, r *http.Request) (*capability.RawResponse, error) {
	if r.Method == http.MethodGet && len(sub) == 2 && sub[0] == "files" {
		return &capability.RawResponse{Status: http.StatusOK, ContentType: "text/plain", Body: []byte("contents of " + sub[1])}, nil
	}
	return nil, nil
}

type HandlerSuite struct {
	suite.Suite
	router    http.Handler
	instances *instancestore.InMemory
	calendar  *calendarHandler
}

func (s *HandlerSuite) SetupTest() {
	registry := catalog.MustNewRegistry(
		catalog.Definition{Name: demoCalendar, Scopes: []models.Scope{models.ScopeCalendar}},
		catalog.Definition{Name: demoFiles, Scopes: []models.Scope{models.ScopeStorage}, AllowMultipleInstances: true},
	)
	s.calendar = &calendarHandler{}
	res := resolver.New(registry)
	s.Require().NoError(res.Register(s.calendar, filesHandler{}))
	signer, err := oauthstate.NewSigner(bytes.Repeat([]byte("s"), 32), time.Minute)
	s.Require().NoError(err)

	s.instances = instancestore.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(s.instances, pendingstore.NewInMemory(), registry, res, signer,
		service.Config{PublicBaseURL: "https://tempo.test"}, service.WithLogger(logger))
	s.Require().NoError(err)

	h := New(svc, logger, WithOpenerOrigin("https://admin.tempo.test"))
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(tenant.RequireCompany(logger))
		h.Register(r)
	})
	h.RegisterWebhooks(r)
	h.RegisterRedirects(r)
	s.router = r
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path string, body io.Reader, company string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if company != "" {
		req.Header.Set(tenant.HeaderCompanyID, company)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) envelope(rec *httptest.ResponseRecorder) map[string]any {
	var env map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (s *HandlerSuite) seed(appName string) *models.Instance {
	inst := tu.NewInstance(tu.TestIDs.CompanyA, appName).Build()
	s.Require().NoError(s.instances.Create(context.Background(), inst, appName == demoFiles))
	return inst
}

func (s *HandlerSuite) TestCompanyHeaderRequired() {
	rec := s.do(http.MethodGet, "/api/apps", nil, "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(false, s.envelope(rec)["success"])
}

func (s *HandlerSuite) TestListDefinitions() {
	rec := s.do(http.MethodGet, "/api/apps/definitions", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), demoCalendar)
}

func (s *HandlerSuite) TestTenantIsolation() {
	inst := s.seed(demoCalendar)

	rec := s.do(http.MethodGet, "/api/apps/"+inst.ID.String(), nil, tu.TestIDs.CompanyB.String())
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", s.envelope(rec)["code"])

	rec = s.do(http.MethodGet, "/api/apps/"+inst.ID.String(), nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(demoCalendar, s.envelope(rec)["app_name"])
}

func (s *HandlerSuite) TestProcessRequest() {
	inst := s.seed(demoCalendar)

	rec := s.do(http.MethodPost, "/api/apps/"+inst.ID.String()+"/process", strings.NewReader(`{"a":1}`), tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"echo":{"a":1}}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/apps/"+inst.ID.String()+"/process", strings.NewReader(`{not json`), tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestUnclassifiedFailureHidesDetail() {
	inst := s.seed(demoCalendar)
	s.calendar.fail = true

	rec := s.do(http.MethodPost, "/api/apps/"+inst.ID.String()+"/process", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusInternalServerError, rec.Code)
	env := s.envelope(rec)
	s.Equal("process_app_request_failed", env["code"])
	s.NotContains(rec.Body.String(), "secret upstream detail")
}

func (s *HandlerSuite) TestAppCall() {
	inst := s.seed(demoFiles)
	base := "/api/apps/" + inst.ID.String() + "/call/"

	rec := s.do(http.MethodGet, base+"files/logo.png", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("text/plain", rec.Header().Get("Content-Type"))
	s.Equal("contents of logo.png", rec.Body.String())

	rec = s.do(http.MethodDelete, base+"files/logo.png", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("unknown_handler", s.envelope(rec)["code"])
}

func (s *HandlerSuite) TestFormUpload() {
	inst := s.seed(demoFiles)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "logo.png")
	s.Require().NoError(err)
	_, _ = fw.Write([]byte("png"))
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/apps/"+inst.ID.String()+"/form", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(tenant.HeaderCompanyID, tu.TestIDs.CompanyA.String())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"files":1}`, rec.Body.String())
}

func (s *HandlerSuite) TestListByScopeValidation() {
	s.seed(demoCalendar)
	s.seed(demoFiles)

	rec := s.do(http.MethodGet, "/api/apps/by/scope?scope=calendar&scope=Storage", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusOK, rec.Code)
	var list InstanceListResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &list))
	s.Len(list.Apps, 2)

	rec = s.do(http.MethodGet, "/api/apps/by/scope?scope=ui-components", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"apps":[]}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/apps/by/scope?scope=bogus", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/apps/by/scope", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestDelete() {
	inst := s.seed(demoCalendar)

	rec := s.do(http.MethodDelete, "/api/apps/"+inst.ID.String(), nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"success":true}`, rec.Body.String())

	rec = s.do(http.MethodDelete, "/api/apps/"+inst.ID.String(), nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestInstall() {
	rec := s.do(http.MethodPost, "/api/apps/install/"+demoFiles, nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusCreated, rec.Code)
	s.Equal("pending", s.envelope(rec)["status"])

	rec = s.do(http.MethodPost, "/api/apps/install/"+demoCalendar, nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/apps/install/"+demoCalendar, nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("duplicate_instance", s.envelope(rec)["code"])

	rec = s.do(http.MethodPost, "/api/apps/install/Not_An_App", nil, tu.TestIDs.CompanyA.String())
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestOAuthRoundTrip() {
	rec := s.do(http.MethodGet, "/api/apps/login-url/"+demoCalendar, nil, tu.TestIDs.CompanyA.String())
	s.Require().Equal(http.StatusOK, rec.Code)
	var login LoginURLResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &login))
	u, err := url.Parse(login.URL)
	s.Require().NoError(err)
	state := u.Query().Get("state")

	redirect := "/oauth/apps/" + demoCalendar + "/redirect?code=c&state=" + url.QueryEscape(state)
	rec = s.do(http.MethodGet, redirect, nil, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Header().Get("Content-Type"), "text/html")
	s.Contains(rec.Body.String(), "window.close()")
	s.Contains(rec.Body.String(), `"success":true`)
	s.Contains(rec.Body.String(), "admin.tempo.test")

	rec = s.do(http.MethodGet, redirect, nil, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "invalid_or_expired_state")
}

func (s *HandlerSuite) TestOAuthDeniedMarksFailed() {
	inst := s.seed(demoCalendar)
	rec := s.do(http.MethodGet, "/api/apps/"+inst.ID.String()+"/login-url", nil, tu.TestIDs.CompanyA.String())
	s.Require().Equal(http.StatusOK, rec.Code)
	var login LoginURLResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &login))
	u, _ := url.Parse(login.URL)

	rec = s.do(http.MethodGet, "/oauth/apps/"+demoCalendar+"/redirect?error=denied&state="+url.QueryEscape(u.Query().Get("state")), nil, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "access_denied")

	stored, err := s.instances.FindByID(context.Background(), tu.TestIDs.CompanyA, inst.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stored.Status)
}

func (s *HandlerSuite) TestInstanceWebhook() {
	inst := s.seed(demoCalendar)
	path := "/webhooks/apps/" + tu.TestIDs.CompanyA.String() + "/" + inst.ID.String()

	rec := s.do(http.MethodPost, path, strings.NewReader("ok"), "")
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodPost, path, strings.NewReader("bad"), "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Empty(rec.Body.String())

	rec = s.do(http.MethodPost, "/webhooks/apps/"+tu.TestIDs.CompanyB.String()+"/"+inst.ID.String(), nil, "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Empty(rec.Body.String())
}

func (s *HandlerSuite) TestWebhookOnAppWithoutWebhooks() {
	inst := s.seed(demoFiles)

	rec := s.do(http.MethodPost, "/webhooks/apps/"+tu.TestIDs.CompanyA.String()+"/"+inst.ID.String(), nil, "")
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/webhooks/apps/kind/"+demoFiles, nil, "")
	s.Equal(http.StatusNotFound, rec.Code)
}
