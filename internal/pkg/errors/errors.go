package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalid        = errors.New("invalid")
	ErrContentEmpty   = errors.New("content empty")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrIndex          = errors.New("index build failed")
	ErrTableNotFound  = errors.New("table not found")
	ErrTooMany        = errors.New("too many requests")
	ErrInternal       = errors.New("internal")
)

// ValidationError reports a record or request that failed shape checks.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ContentEmptyError means normalization produced no searchable text, which
// points at missing upstream metadata.
type ContentEmptyError struct {
	DescriptorID string
}

func (e *ContentEmptyError) Error() string {
	return fmt.Sprintf("descriptor %q produced empty combined text", e.DescriptorID)
}

func (e *ContentEmptyError) Unwrap() error {
	return ErrContentEmpty
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
