// Package capability defines the contracts an app handler can implement. A
// handler implements only the subset that makes sense for its app kind; the
// resolver discovers that subset once, at registration.
package capability

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
)

// Handler is the runtime backing of one app definition.
type Handler interface {
	AppName() string
}

// Result is returned by request-style capabilities. Body is written to the
// caller as JSON verbatim; Delta, if set, is persisted on the instance.
type Result struct {
	Body  any
	Delta *models.InstanceDelta
}

// RawResponse is a passthrough HTTP response from an app call or webhook.
type RawResponse struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
	Delta       *models.InstanceDelta
}

// WebhookRequest is a buffered view of an inbound provider callback. The body
// is read once so signature checks and target resolution see the same bytes.
type WebhookRequest struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// WebhookTarget is the tenant and instance a provider payload belongs to.
type WebhookTarget struct {
	CompanyID  id.CompanyID
	InstanceID id.InstanceID
}

// LoginRequest carries everything a handler needs to build an authorization URL.
type LoginRequest struct {
	CompanyID   id.CompanyID
	InstanceID  *id.InstanceID
	State       string
	RedirectURI string
}

// RedirectRequest is the OAuth callback handed to the handler after the state
// has been verified and consumed.
type RedirectRequest struct {
	CompanyID   id.CompanyID
	Instance    *models.Instance
	Query       url.Values
	RedirectURI string
}

// Connection is what a successful code exchange yields.
type Connection struct {
	Data    models.AppData
	Account *models.Account
}

type RequestProcessor interface {
	ProcessRequest(ctx context.Context, inst *models.Instance, body json.RawMessage) (*Result, error)
}

type StaticRequestProcessor interface {
	ProcessStaticRequest(ctx context.Context, body json.RawMessage) (*Result, error)
}

type FormProcessor interface {
	ProcessFormRequest(ctx context.Context, inst *models.Instance, form *multipart.Form) (*Result, error)
}

// AppCallProcessor exposes a nested sub-API. A nil response means the handler
// has no route for subPath.
type AppCallProcessor interface {
	ProcessAppCall(ctx context.Context, inst *models.Instance, subPath []string, r *http.Request) (*RawResponse, error)
}

// WebhookProcessor handles provider callbacks for a known instance. The
// handler verifies any provider signature.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, inst *models.Instance, req *WebhookRequest) (*RawResponse, error)
}

// WebhookRouter identifies the target of an app-kind webhook from the
// provider payload.
type WebhookRouter interface {
	WebhookTarget(ctx context.Context, req *WebhookRequest) (*WebhookTarget, error)
}

type LoginURLIssuer interface {
	RequestLoginURL(ctx context.Context, req LoginRequest) (string, error)
}

type RedirectProcessor interface {
	ProcessRedirect(ctx context.Context, req RedirectRequest) (*Connection, error)
}

// StateExtractor lets a provider that does not echo "state" in the query
// point at where it carries the token.
type StateExtractor interface {
	ExtractState(query url.Values) string
}

// AppDataProcessor post-processes instance data before it reaches the UI,
// typically to redact secrets.
type AppDataProcessor interface {
	ProcessAppData(ctx context.Context, inst *models.Instance) (any, error)
}

// DeleteHook tears down remote state when an instance is removed.
type DeleteHook interface {
	OnDelete(ctx context.Context, inst *models.Instance) error
}
