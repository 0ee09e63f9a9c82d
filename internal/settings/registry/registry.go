// Package registry holds the compiled-in setting catalog: which
// categories and keys exist, their value shapes, defaults, validation
// rules, cache TTLs and conflict strategies. The catalog is the source
// of truth for metadata; the database stores only explicit overrides.
package registry

import (
	"errors"
	"time"

	"github.com/lotkeeper/lotkeeper/internal/settings/conflict"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

var (
	// ErrUnknownCategory is returned for a category not in the catalog.
	ErrUnknownCategory = errors.New("unknown setting category")
	// ErrUnknownKey is returned for a key not in the catalog.
	ErrUnknownKey = errors.New("unknown setting key")
)

// Definition describes one setting key.
type Definition struct {
	Category    string
	Key         string
	Kind        value.Kind
	Default     value.Value
	Description string

	// Rule is a go-playground/validator tag applied to the native
	// representation of scalar values, empty for no rule.
	Rule string

	SortOrder int

	// Sensitive values are never written to the durable local cache
	// and never logged in plaintext.
	Sensitive bool

	// UserOverridable allows a per-user override; otherwise the walk
	// starts at location scope.
	UserOverridable bool
}

// CrossCheck validates relationships between keys of one category. It
// receives the effective value per key after applying the candidate
// write and returns a human-readable violation, or "".
type CrossCheck func(values map[string]value.Value) string

// CategorySpec carries the per-category policies.
type CategorySpec struct {
	Name        string
	Description string

	// CacheTTL bounds how long resolved values of this category may be
	// served from the in-process cache.
	CacheTTL time.Duration

	// Strategy reconciles concurrent writes within this category.
	Strategy conflict.Strategy

	CrossChecks []CrossCheck
}

// Registry is the immutable compiled-in catalog.
type Registry struct {
	categories map[string]CategorySpec
	defs       map[string]map[string]Definition
}

// New builds a catalog from category specs and definitions. Definitions
// referencing an unknown category panic: the catalog is compiled in and
// a mismatch is a programming error.
func New(specs []CategorySpec, defs []Definition) *Registry {
	r := &Registry{
		categories: make(map[string]CategorySpec, len(specs)),
		defs:       make(map[string]map[string]Definition, len(specs)),
	}

	for _, spec := range specs {
		r.categories[spec.Name] = spec
		r.defs[spec.Name] = make(map[string]Definition)
	}

	for _, def := range defs {
		keys, ok := r.defs[def.Category]
		if !ok {
			panic("registry: definition for unknown category " + def.Category)
		}
		keys[def.Key] = def
	}

	return r
}

// Category returns the spec for a category.
func (r *Registry) Category(name string) (CategorySpec, error) {
	spec, ok := r.categories[name]
	if !ok {
		return CategorySpec{}, ErrUnknownCategory
	}

	return spec, nil
}

// Definition returns the definition for a (category, key).
func (r *Registry) Definition(category, key string) (Definition, error) {
	keys, ok := r.defs[category]
	if !ok {
		return Definition{}, ErrUnknownCategory
	}

	def, ok := keys[key]
	if !ok {
		return Definition{}, ErrUnknownKey
	}

	return def, nil
}

// CategoryDefinitions returns all definitions of a category keyed by
// setting key.
func (r *Registry) CategoryDefinitions(category string) (map[string]Definition, error) {
	keys, ok := r.defs[category]
	if !ok {
		return nil, ErrUnknownCategory
	}

	out := make(map[string]Definition, len(keys))
	for k, def := range keys {
		out[k] = def
	}

	return out, nil
}

// Categories returns the names of all known categories.
func (r *Registry) Categories() []string {
	names := make([]string, 0, len(r.categories))
	for name := range r.categories {
		names = append(names, name)
	}

	return names
}

// TTL returns the cache TTL for a category, or the fallback when the
// category is unknown.
func (r *Registry) TTL(category string, fallback time.Duration) time.Duration {
	spec, ok := r.categories[category]
	if !ok || spec.CacheTTL <= 0 {
		return fallback
	}

	return spec.CacheTTL
}

// Strategy returns the conflict strategy for a category, defaulting to
// server_wins.
func (r *Registry) Strategy(category string) conflict.Strategy {
	spec, ok := r.categories[category]
	if !ok || !spec.Strategy.Valid() {
		return conflict.ServerWins
	}

	return spec.Strategy
}
