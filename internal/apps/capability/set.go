package capability

import "strings"

// Capability is a single bit of a Set.
type Capability uint16

const (
	CapRequest Capability = 1 << iota
	CapStaticRequest
	CapForm
	CapAppCall
	CapWebhook
	CapWebhookRouter
	CapLoginURL
	CapRedirect
	CapAppData
	CapDelete
)

var capNames = []struct {
	c    Capability
	name string
}{
	{CapRequest, "process_request"},
	{CapStaticRequest, "process_static_request"},
	{CapForm, "process_form_request"},
	{CapAppCall, "process_app_call"},
	{CapWebhook, "process_webhook"},
	{CapWebhookRouter, "webhook_router"},
	{CapLoginURL, "request_login_url"},
	{CapRedirect, "process_redirect"},
	{CapAppData, "process_app_data"},
	{CapDelete, "on_delete"},
}

func (c Capability) String() string {
	for _, n := range capNames {
		if n.c == c {
			return n.name
		}
	}
	return "unknown"
}

// Set is the bitmask of capabilities a handler implements.
type Set uint16

// Of computes the capability set of h by type assertion.
func Of(h Handler) Set {
	var s Set
	if _, ok := h.(RequestProcessor); ok {
		s |= Set(CapRequest)
	}
	if _, ok := h.(StaticRequestProcessor); ok {
		s |= Set(CapStaticRequest)
	}
	if _, ok := h.(FormProcessor); ok {
		s |= Set(CapForm)
	}
	if _, ok := h.(AppCallProcessor); ok {
		s |= Set(CapAppCall)
	}
	if _, ok := h.(WebhookProcessor); ok {
		s |= Set(CapWebhook)
	}
	if _, ok := h.(WebhookRouter); ok {
		s |= Set(CapWebhookRouter)
	}
	if _, ok := h.(LoginURLIssuer); ok {
		s |= Set(CapLoginURL)
	}
	if _, ok := h.(RedirectProcessor); ok {
		s |= Set(CapRedirect)
	}
	if _, ok := h.(AppDataProcessor); ok {
		s |= Set(CapAppData)
	}
	if _, ok := h.(DeleteHook); ok {
		s |= Set(CapDelete)
	}
	return s
}

func (s Set) Has(c Capability) bool {
	return s&Set(c) != 0
}

// HasOAuth reports whether either half of the OAuth pair is present.
func (s Set) HasOAuth() bool {
	return s.Has(CapLoginURL) || s.Has(CapRedirect)
}

func (s Set) Names() []string {
	var out []string
	for _, n := range capNames {
		if s.Has(n.c) {
			out = append(out, n.name)
		}
	}
	return out
}

func (s Set) String() string {
	return strings.Join(s.Names(), ",")
}
