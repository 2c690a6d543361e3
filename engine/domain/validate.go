package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldNames maps struct fields to the names used in the import format.
var fieldNames = map[string]string{
	"Pattern":     "pattern",
	"Make":        "make",
	"VehicleCode": "vehicleCode",
	"Model":       "model",
}

// trimmed returns m with surrounding whitespace removed from the text fields.
// It is only used for validation: stored mappings keep their text verbatim.
func trimmed(m ModelMapping) ModelMapping {
	m.Pattern = strings.TrimSpace(m.Pattern)
	m.Make = strings.TrimSpace(m.Make)
	m.VehicleCode = strings.TrimSpace(m.VehicleCode)
	m.Model = strings.TrimSpace(m.Model)
	return m
}

// ValidateMapping checks a mapping. Whitespace-only fields count as empty.
// The mapping itself is not modified.
func ValidateMapping(m ModelMapping) error {
	m = trimmed(m)
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate mapping: %w", err)
	}
	fe := verrs[0]
	name := fieldNames[fe.StructField()]
	if name == "" {
		name = fe.Field()
	}
	var reason error
	switch fe.Tag() {
	case "required":
		reason = fmt.Errorf("%w: %s is empty", ErrInvalidMapping, name)
	case "excludes":
		reason = fmt.Errorf("%w: %s must not contain %q", ErrInvalidMapping, name, fe.Param())
	case "max":
		reason = fmt.Errorf("%w: %s longer than %s", ErrInvalidMapping, name, fe.Param())
	default:
		reason = fmt.Errorf("%w: %s failed %s", ErrInvalidMapping, name, fe.Tag())
	}
	return NewValidationError(name, fmt.Sprint(fe.Value()), reason)
}
