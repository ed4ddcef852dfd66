// Package catalog holds the static set of app kinds a company can install.
// The registry is built once at startup and never mutated, so it is shared
// across goroutines without locking.
package catalog

import (
	"fmt"
	"slices"
	"sort"

	"tempo/internal/apps/models"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/validation"
)

// Definition describes one app kind.
type Definition struct {
	Name                   string         `json:"name"`
	DisplayName            string         `json:"display_name"`
	Category               string         `json:"category"`
	Scopes                 []models.Scope `json:"scopes"`
	Type                   models.AppType `json:"type"`
	AllowMultipleInstances bool           `json:"allow_multiple_instances"`
	IsHidden               bool           `json:"is_hidden"`
}

// HasScope reports whether the definition belongs to scope.
func (d Definition) HasScope(scope models.Scope) bool {
	return slices.Contains(d.Scopes, scope)
}

func (d Definition) clone() Definition {
	d.Scopes = slices.Clone(d.Scopes)
	return d
}

// Registry is the read-only app catalog.
type Registry struct {
	byName map[string]Definition
	names  []string
}

// NewRegistry validates defs and builds the registry. Empty, malformed or
// duplicate names are rejected.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if !validation.IsAppName(def.Name) {
			return nil, fmt.Errorf("catalog: invalid app name %q", def.Name)
		}
		if _, exists := r.byName[def.Name]; exists {
			return nil, fmt.Errorf("catalog: duplicate app name %q", def.Name)
		}
		if def.Type == "" {
			def.Type = models.AppTypeUser
		}
		if def.Type != models.AppTypeUser && def.Type != models.AppTypeSystem {
			return nil, fmt.Errorf("catalog: app %q has unknown type %q", def.Name, def.Type)
		}
		for _, scope := range def.Scopes {
			if !scope.IsValid() {
				return nil, fmt.Errorf("catalog: app %q has unknown scope %q", def.Name, scope)
			}
		}
		r.byName[def.Name] = def.clone()
		r.names = append(r.names, def.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// MustNewRegistry panics on an invalid catalog. The gateway builds the
// compiled-in catalog with it, where a bad definition is a programming error.
func MustNewRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, error) {
	def, ok := r.byName[name]
	if !ok {
		return Definition{}, dErrors.New(dErrors.CodeUnknownApp, fmt.Sprintf("unknown app %q", name))
	}
	return def.clone(), nil
}

// Exists reports whether name is a known app kind.
func (r *Registry) Exists(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// KnownScope reports whether scope can be listed. A known scope with no apps
// in the catalog is still known.
func (r *Registry) KnownScope(scope models.Scope) bool {
	return scope.IsValid()
}

// ListByScope returns every definition having at least one of scopes, sorted by name.
func (r *Registry) ListByScope(scopes ...models.Scope) []Definition {
	var out []Definition
	for _, name := range r.names {
		def := r.byName[name]
		for _, scope := range scopes {
			if def.HasScope(scope) {
				out = append(out, def.clone())
				break
			}
		}
	}
	return out
}

// ListAll returns every definition sorted by name, optionally including hidden ones.
func (r *Registry) ListAll(includeHidden bool) []Definition {
	out := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		def := r.byName[name]
		if def.IsHidden && !includeHidden {
			continue
		}
		out = append(out, def.clone())
	}
	return out
}

// ListByType returns every definition of type t.
func (r *Registry) ListByType(t models.AppType) []Definition {
	var out []Definition
	for _, name := range r.names {
		if def := r.byName[name]; def.Type == t {
			out = append(out, def.clone())
		}
	}
	return out
}

// Names returns all app names sorted.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}
