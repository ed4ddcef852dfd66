// Package resolver maps an app name to the handler registered for it.
package resolver

import (
	"errors"
	"fmt"
	"sync"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	dErrors "tempo/pkg/domain-errors"
)

// Resolved is a handler together with its definition and capability set.
// Callers reach capabilities only through the typed accessors.
type Resolved struct {
	Definition catalog.Definition
	Caps       capability.Set
	handler    capability.Handler
}

func (r *Resolved) Name() string { return r.Definition.Name }

func (r *Resolved) RequestProcessor() (capability.RequestProcessor, bool) {
	return as[capability.RequestProcessor](r, capability.CapRequest)
}

func (r *Resolved) StaticRequestProcessor() (capability.StaticRequestProcessor, bool) {
	return as[capability.StaticRequestProcessor](r, capability.CapStaticRequest)
}

func (r *Resolved) FormProcessor() (capability.FormProcessor, bool) {
	return as[capability.FormProcessor](r, capability.CapForm)
}

func (r *Resolved) AppCallProcessor() (capability.AppCallProcessor, bool) {
	return as[capability.AppCallProcessor](r, capability.CapAppCall)
}

func (r *Resolved) WebhookProcessor() (capability.WebhookProcessor, bool) {
	return as[capability.WebhookProcessor](r, capability.CapWebhook)
}

func (r *Resolved) WebhookRouter() (capability.WebhookRouter, bool) {
	return as[capability.WebhookRouter](r, capability.CapWebhookRouter)
}

func (r *Resolved) LoginURLIssuer() (capability.LoginURLIssuer, bool) {
	return as[capability.LoginURLIssuer](r, capability.CapLoginURL)
}

func (r *Resolved) RedirectProcessor() (capability.RedirectProcessor, bool) {
	return as[capability.RedirectProcessor](r, capability.CapRedirect)
}

func (r *Resolved) AppDataProcessor() (capability.AppDataProcessor, bool) {
	return as[capability.AppDataProcessor](r, capability.CapAppData)
}

func (r *Resolved) DeleteHook() (capability.DeleteHook, bool) {
	return as[capability.DeleteHook](r, capability.CapDelete)
}

// StateExtractor is optional and not part of the capability set.
func (r *Resolved) StateExtractor() (capability.StateExtractor, bool) {
	e, ok := r.handler.(capability.StateExtractor)
	return e, ok
}

func as[T any](r *Resolved, c capability.Capability) (T, bool) {
	var zero T
	if !r.Caps.Has(c) {
		return zero, false
	}
	v, ok := r.handler.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Resolver holds one handler per catalog entry. Registration happens during
// startup; lookups afterwards only take the read lock.
type Resolver struct {
	registry *catalog.Registry

	mu       sync.RWMutex
	handlers map[string]*Resolved
}

func New(registry *catalog.Registry) *Resolver {
	return &Resolver{registry: registry, handlers: make(map[string]*Resolved)}
}

// Register validates each handler against its definition and records its
// capabilities. It stops at the first handler that does not fit.
func (r *Resolver) Register(handlers ...capability.Handler) error {
	for _, h := range handlers {
		if err := r.register(h); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) register(h capability.Handler) error {
	if h == nil {
		return errors.New("resolver: nil handler")
	}
	name := h.AppName()
	def, err := r.registry.Get(name)
	if err != nil {
		return fmt.Errorf("resolver: handler %q has no catalog definition", name)
	}
	caps := capability.Of(h)
	if err := checkConsistency(def, caps); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("resolver: handler %q registered twice", name)
	}
	r.handlers[name] = &Resolved{Definition: def, Caps: caps, handler: h}
	return nil
}

func checkConsistency(def catalog.Definition, caps capability.Set) error {
	if caps == 0 {
		return fmt.Errorf("resolver: handler %q implements no capability", def.Name)
	}
	if caps.HasOAuth() && !(caps.Has(capability.CapLoginURL) && caps.Has(capability.CapRedirect)) {
		return fmt.Errorf("resolver: handler %q must implement both login url and redirect", def.Name)
	}
	if (def.HasScope(models.ScopeCalendar) || def.HasScope(models.ScopeVideo)) && def.Type == models.AppTypeUser &&
		!caps.HasOAuth() {
		return fmt.Errorf("resolver: %s app %q must implement the oauth flow", def.Scopes[0], def.Name)
	}
	if caps.Has(capability.CapWebhookRouter) && !caps.Has(capability.CapWebhook) {
		return fmt.Errorf("resolver: handler %q routes webhooks but cannot process them", def.Name)
	}
	if def.Type == models.AppTypeSystem && caps.HasOAuth() {
		return fmt.Errorf("resolver: system app %q cannot require oauth", def.Name)
	}
	return nil
}

// Resolve returns the handler for appName. An unknown name is CodeUnknownApp;
// a catalog entry without a handler is CodeUnknownAppHandler.
func (r *Resolver) Resolve(appName string) (*Resolved, error) {
	if !r.registry.Exists(appName) {
		return nil, dErrors.New(dErrors.CodeUnknownApp, fmt.Sprintf("unknown app %q", appName))
	}
	r.mu.RLock()
	resolved, ok := r.handlers[appName]
	r.mu.RUnlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnknownAppHandler, fmt.Sprintf("no handler registered for app %q", appName))
	}
	return resolved, nil
}

// SelfCheck reports every catalog entry that has no handler.
func (r *Resolver) SelfCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, name := range r.registry.Names() {
		if _, ok := r.handlers[name]; !ok {
			errs = append(errs, fmt.Errorf("app %q has no handler", name))
		}
	}
	return errors.Join(errs...)
}

// Capabilities returns the capability names per registered app. The gateway
// logs it at startup.
func (r *Resolver) Capabilities() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.handlers))
	for name, resolved := range r.handlers {
		out[name] = resolved.Caps.Names()
	}
	return out
}
