// Package providers holds the pieces shared by the built-in app handlers:
// action envelopes for request-style calls, typed access to instance data and
// an outbound HTTP helper that turns provider failures into declared errors.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/models"
	appvalidation "tempo/pkg/validation"
)

// maxResponseBytes bounds what is read back from a provider API.
const maxResponseBytes = 4 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is used when a handler is built without a client. The
// gateway deadline on ctx is normally the tighter bound.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// ActionRequest is the body of a process request: {"action": "...", "params": {...}}.
type ActionRequest struct {
	Action string          `json:"action" validate:"required,notblank"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ParseAction decodes the action envelope of a process request.
func ParseAction(body json.RawMessage) (*ActionRequest, error) {
	var req ActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "invalid_request", "request body must be an action object")
	}
	if err := appvalidation.Validate(&req); err != nil {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "invalid_request", err.Error())
	}
	return &req, nil
}

// DecodeParams decodes and validates the action params into v.
func DecodeParams[T any](req *ActionRequest, v *T) error {
	params := req.Params
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return capability.NewAppRequestError(http.StatusBadRequest, "invalid_params", "params are not valid for action "+req.Action)
	}
	if err := appvalidation.Validate(v); err != nil {
		return capability.NewAppRequestError(http.StatusBadRequest, "invalid_params", err.Error())
	}
	return nil
}

// UnknownAction is returned for an action the handler does not implement.
func UnknownAction(action string) error {
	return capability.NewAppRequestError(http.StatusBadRequest, "unknown_action", fmt.Sprintf("unknown action %q", action))
}

// NotConnected is returned when an action needs credentials the instance
// does not have yet.
func NotConnected(appName string) error {
	return capability.NewAppRequestError(http.StatusConflict, "app_not_connected", appName+" is not connected")
}

// DecodeData reads the typed payload of an instance. A payload written under
// another schema is an error; an empty payload yields the zero value.
func DecodeData[T any](inst *models.Instance, schema string) (T, error) {
	var v T
	if inst == nil || inst.Data.IsZero() {
		return v, nil
	}
	if inst.Data.Schema != schema {
		return v, fmt.Errorf("instance data has schema %q, want %q", inst.Data.Schema, schema)
	}
	if err := json.Unmarshal(inst.Data.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s data: %w", schema, err)
	}
	return v, nil
}

// EncodeData builds the stored payload for v under schema.
func EncodeData(schema string, v any) (*models.AppData, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", schema, err)
	}
	return &models.AppData{Schema: schema, Payload: payload}, nil
}

// Mask hides all but the last four characters of a credential.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// ProviderError is a non-2xx answer from a provider API. Err is the SDK
// error it came from, if any.
type ProviderError struct {
	Provider string
	Status   int
	Body     []byte
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Provider, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StatusError classifies a provider answer reported by an SDK. A 5xx stays
// an unclassified *ProviderError so the circuit breaker sees it; every other
// status becomes a declared error.
func StatusError(provider string, status int, body []byte, cause error) error {
	perr := &ProviderError{Provider: provider, Status: status, Body: body, Err: cause}
	if status >= 500 {
		return perr
	}
	return perr.Declared()
}

// BindContext returns a copy of base whose requests carry ctx, for SDK calls
// that take no context of their own.
func BindContext(ctx context.Context, base *http.Client) *http.Client {
	if base == nil {
		base = DefaultHTTPClient()
	}
	bound := *base
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	bound.Transport = contextTransport{ctx: ctx, next: next}
	return &bound
}

type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

// Declared maps a provider failure to the error shown to the caller. Provider
// bodies are never forwarded.
func (e *ProviderError) Declared() *capability.AppRequestError {
	var out *capability.AppRequestError
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		out = capability.NewAppRequestError(http.StatusBadGateway, "provider_authentication_failed",
			e.Provider+" rejected the stored credentials")
	case e.Status == http.StatusNotFound:
		out = capability.NewAppRequestError(http.StatusNotFound, "provider_not_found", e.Provider+" could not find the resource")
	case e.Status == http.StatusTooManyRequests:
		out = capability.NewAppRequestError(http.StatusTooManyRequests, "provider_rate_limited", e.Provider+" is rate limiting requests")
	case e.Status >= 500:
		out = capability.NewAppRequestError(http.StatusBadGateway, "provider_unavailable", e.Provider+" is unavailable")
	default:
		out = capability.NewAppRequestError(http.StatusBadRequest, "provider_rejected", e.Provider+" rejected the request")
	}
	out.Err = e
	return out
}

// Do executes req and decodes a JSON answer into out (when non-nil). A
// provider 5xx stays an unclassified error so the circuit breaker sees it;
// every other non-2xx becomes a declared error.
func Do(ctx context.Context, client HTTPDoer, provider string, req *http.Request, out any) error {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("call %s: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusError(provider, resp.StatusCode, body, nil)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

// IsProviderStatus reports whether err is a provider answer with status.
func IsProviderStatus(err error, status int) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Status == status
}

// JSONRequest builds a request with a JSON body.
func JSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
