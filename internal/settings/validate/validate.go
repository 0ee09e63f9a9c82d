// Package validate enforces type and business-rule constraints before
// a setting write is accepted. It runs once in the client path for fast
// feedback and again inside the store write path; only the second run
// is authoritative.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lotkeeper/lotkeeper/internal/settings/registry"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// FieldError is one violated constraint.
type FieldError struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
}

// ValidationError carries the field-level error list of a rejected
// write. It is always surfaced to the initiating caller.
type ValidationError struct {
	Errors []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fmt.Sprintf("%s.%s: %s", fe.Category, fe.Key, fe.Message)
	}

	return "validation failed: " + strings.Join(msgs, "; ")
}

// Engine validates candidate writes against the compiled-in catalog.
type Engine struct {
	reg      *registry.Registry
	validate *validator.Validate
}

// New creates a validation engine.
func New(reg *registry.Registry) *Engine {
	return &Engine{
		reg:      reg,
		validate: validator.New(),
	}
}

// Check validates one candidate write. effective holds the current
// effective values of the category so cross-setting rules can see the
// state the write would produce; pass nil to skip the cross checks.
// Order: kind check, per-key rule, cross-setting consistency.
func (e *Engine) Check(category, key string, val value.Value, effective map[string]value.Value) error {
	def, err := e.reg.Definition(category, key)
	if err != nil {
		return &ValidationError{Errors: []FieldError{{
			Category: category,
			Key:      key,
			Rule:     "known_key",
			Message:  err.Error(),
		}}}
	}

	if fe := checkKind(def, val); fe != nil {
		return &ValidationError{Errors: []FieldError{*fe}}
	}

	if fe := e.checkRule(def, val); fe != nil {
		return &ValidationError{Errors: []FieldError{*fe}}
	}

	if effective == nil {
		return nil
	}

	spec, err := e.reg.Category(category)
	if err != nil {
		return nil
	}

	candidate := make(map[string]value.Value, len(effective)+1)
	for k, v := range effective {
		candidate[k] = v
	}
	candidate[key] = val

	var fieldErrs []FieldError
	for _, check := range spec.CrossChecks {
		if msg := check(candidate); msg != "" {
			fieldErrs = append(fieldErrs, FieldError{
				Category: category,
				Key:      key,
				Rule:     "cross_setting",
				Message:  msg,
			})
		}
	}

	if len(fieldErrs) > 0 {
		return &ValidationError{Errors: fieldErrs}
	}

	return nil
}

func checkKind(def registry.Definition, val value.Value) *FieldError {
	if val.IsNull() {
		return &FieldError{
			Category: def.Category,
			Key:      def.Key,
			Rule:     "required",
			Message:  "value must not be null",
		}
	}

	ok := val.Kind() == def.Kind
	// an integer is acceptable wherever a float is declared
	if !ok && def.Kind == value.KindFloat && val.Kind() == value.KindInt {
		ok = true
	}

	if !ok {
		return &FieldError{
			Category: def.Category,
			Key:      def.Key,
			Rule:     "kind",
			Message:  fmt.Sprintf("expected %s, got %s", def.Kind, val.Kind()),
		}
	}

	return nil
}

func (e *Engine) checkRule(def registry.Definition, val value.Value) *FieldError {
	if def.Rule == "" || !val.IsScalar() {
		return nil
	}

	if err := e.validate.Var(value.Native(val), def.Rule); err != nil {
		rule := def.Rule
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 { //nolint:errorlint // validator returns this type directly
			rule = verrs[0].Tag()
		}

		return &FieldError{
			Category: def.Category,
			Key:      def.Key,
			Rule:     rule,
			Message:  fmt.Sprintf("value does not satisfy rule %q", def.Rule),
		}
	}

	return nil
}
