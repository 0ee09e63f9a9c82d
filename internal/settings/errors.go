package settings

import (
	"errors"
	"fmt"

	"github.com/lotkeeper/lotkeeper/internal/settings/resolver"
	"github.com/lotkeeper/lotkeeper/internal/settings/validate"
)

// ErrSettingNotFound is returned when no scope holds a value and the
// catalog has no default. Caller policy decides whether that is fatal.
var ErrSettingNotFound = resolver.ErrNotFound

// ErrScopeNotAllowed is returned when a write targets a scope level the
// setting or the requester does not support.
var ErrScopeNotAllowed = errors.New("setting cannot be written at this scope")

// ValidationError is the field-level rejection of a write.
type ValidationError = validate.ValidationError

// StoreError wraps a backing-store failure. Reads degrade through the
// fallback chain on it; writes fail with it and any optimistic cache
// update is rolled back.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("backing store %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the cause.
func (e *StoreError) Unwrap() error { return e.Err }

// AsValidationError extracts a ValidationError from an error chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)

	return ve, ok
}
