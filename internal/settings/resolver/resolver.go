// Package resolver walks the scope inheritance chain to produce the
// single effective value for a setting key.
package resolver

import (
	"context"
	"errors"

	"gorm.io/gorm"

	settingctl "github.com/lotkeeper/lotkeeper/internal/db/controller/setting"
	"github.com/lotkeeper/lotkeeper/internal/db/models"
	"github.com/lotkeeper/lotkeeper/internal/settings/registry"
	"github.com/lotkeeper/lotkeeper/internal/settings/scope"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// ErrNotFound is returned when no scope holds a value and the catalog
// has no default. Callers treat the key as absent; this is policy, not
// a fault to surface to end users.
var ErrNotFound = errors.New("setting not found at any scope")

// Resolved pairs an effective value with the scope that satisfied it.
type Resolved struct {
	Value value.Value
	Scope scope.Scope
}

// Engine resolves effective values against the backing store.
type Engine struct {
	db  *gorm.DB
	reg *registry.Registry
}

// New creates a resolution engine.
func New(db *gorm.DB, reg *registry.Registry) *Engine {
	return &Engine{db: db, reg: reg}
}

// Resolve walks user → location → system and returns the first
// explicit value, falling back to the compiled-in default. The walk is
// whole-value replacement: scopes never merge partial values.
func (e *Engine) Resolve(ctx context.Context, category, key string, ref scope.Ref) (Resolved, error) {
	def, err := e.reg.Definition(category, key)
	if err != nil {
		return Resolved{}, ErrNotFound
	}

	for _, level := range ref.Chain() {
		if level == scope.User && !def.UserOverridable {
			continue
		}

		row, err := settingctl.Get(ctx, e.db, category, key, string(level), ref.InstanceID(level))
		if err != nil {
			if errors.Is(err, settingctl.ErrSettingNotFound) {
				continue
			}

			return Resolved{}, err
		}

		v, err := value.Decode(row.Value)
		if err != nil {
			return Resolved{}, err
		}

		return Resolved{Value: v, Scope: level}, nil
	}

	if def.Default.IsNull() {
		return Resolved{}, ErrNotFound
	}

	return Resolved{Value: def.Default, Scope: scope.Default}, nil
}

// ResolveCategory resolves every defined key of a category for one
// requester. Keys without a value at any scope and without a default
// are omitted.
func (e *Engine) ResolveCategory(ctx context.Context, category string, ref scope.Ref) (map[string]Resolved, error) {
	defs, err := e.reg.CategoryDefinitions(category)
	if err != nil {
		return nil, ErrNotFound
	}

	// one query per scope level instead of one per key
	chain := ref.Chain()
	levels := make([]map[string]models.Setting, 0, len(chain))
	for _, level := range chain {
		rows, err := settingctl.GetCategory(ctx, e.db, category, string(level), ref.InstanceID(level))
		if err != nil {
			return nil, err
		}
		levels = append(levels, rows)
	}

	out := make(map[string]Resolved, len(defs))

	for key, def := range defs {
		resolved, ok, err := pickFromLevels(def, chain, levels)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = resolved

			continue
		}

		if !def.Default.IsNull() {
			out[key] = Resolved{Value: def.Default, Scope: scope.Default}
		}
	}

	return out, nil
}

func pickFromLevels(def registry.Definition, chain []scope.Scope, levels []map[string]models.Setting) (Resolved, bool, error) {
	for i, level := range chain {
		if level == scope.User && !def.UserOverridable {
			continue
		}

		row, ok := levels[i][def.Key]
		if !ok {
			continue
		}

		v, err := value.Decode(row.Value)
		if err != nil {
			return Resolved{}, false, err
		}

		return Resolved{Value: v, Scope: level}, true, nil
	}

	return Resolved{}, false, nil
}
