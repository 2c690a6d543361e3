package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrInvalidMapping = errors.New("invalid mapping")
	ErrNotFound       = errors.New("not found")
)

// ErrorKind names a per-line failure.
type ErrorKind string

const (
	KindMalformedYear       ErrorKind = "MALFORMED_YEAR"
	KindMissingVehicleText  ErrorKind = "MISSING_VEHICLE_TEXT"
	KindMissingPositionText ErrorKind = "MISSING_POSITION_TEXT"
	KindVehicleNotFound     ErrorKind = "VEHICLE_NOT_FOUND"
	KindPositionNotFound    ErrorKind = "POSITION_NOT_FOUND"
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ParseError reports a syntax problem in one application statement.
type ParseError struct {
	Kind ErrorKind
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s in %q", e.Kind, e.Msg, e.Text)
}

// ResolutionError reports that part of an application has no reference match.
type ResolutionError struct {
	Kind ErrorKind
	Msg  string
	// Fragments lists unresolved position fragments for POSITION_NOT_FOUND.
	Fragments []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// KindOf extracts the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}
