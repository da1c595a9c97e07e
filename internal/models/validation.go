package models

import (
	"errors"
	"strings"
)

// FieldError ties a validation failure to the field that caused it, e.g.
// "viewports[1].granularity".
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e FieldError) Unwrap() error { return e.Err }

// ValidationErrors lists every bad field of a key, bar or config so callers
// can report them all at once. errors.Is matches any recorded cause.
type ValidationErrors []FieldError

// Add records err against field. A nested ValidationErrors is flattened with
// its fields prefixed by field.
func (v *ValidationErrors) Add(field string, err error) {
	if err == nil {
		return
	}

	var nested ValidationErrors
	if errors.As(err, &nested) {
		for _, sub := range nested {
			*v = append(*v, FieldError{Field: fieldPath(field, sub.Field), Err: sub.Err})
		}
		return
	}
	*v = append(*v, FieldError{Field: field, Err: err})
}

// AddMessage records a failure that has no sentinel error.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message == "" {
		return
	}
	v.Add(field, errors.New(message))
}

// Err returns the collected failures, or nil if there are none.
func (v *ValidationErrors) Err() error {
	if v == nil || len(*v) == 0 {
		return nil
	}
	return *v
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Error())
	}
	return strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(v))
	for _, fe := range v {
		out = append(out, fe)
	}
	return out
}

func fieldPath(prefix, field string) string {
	if prefix == "" {
		return field
	}
	if field == "" {
		return prefix
	}
	return prefix + "." + field
}
