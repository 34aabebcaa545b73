package normalize

import (
	"errors"
	"fmt"
)

// Kind classifies a validation failure.
type Kind string

const (
	// MalformedInput: the payload is not a JSON object.
	MalformedInput     Kind = "MalformedInput"
	MissingField       Kind = "MissingField"
	TypeError          Kind = "TypeError"
	InvalidMetricValue Kind = "InvalidMetricValue"
)

// Error is returned for every rejected payload.
//
// Field names the offending top-level field, or the metric key for
// InvalidMetricValue.
type Error struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsKind reports whether err is a validation error of the given kind.
func IsKind(err error, kind Kind) bool {
	var verr *Error
	return errors.As(err, &verr) && verr.Kind == kind
}

func notAnObject(v any) *Error {
	return &Error{
		Kind:    MalformedInput,
		Message: fmt.Sprintf("payload must be a JSON object, got %s", describe(v)),
	}
}

func missingField(name string) *Error {
	return &Error{Kind: MissingField, Field: name, Message: "Missing field: " + name}
}

func typeError(field, want string) *Error {
	return &Error{Kind: TypeError, Field: field, Message: fmt.Sprintf("%s must be %s", field, want)}
}

func invalidMetric(key string, v any) *Error {
	return &Error{
		Kind:    InvalidMetricValue,
		Field:   key,
		Message: fmt.Sprintf("metric %q must be a finite number, got %s", key, describe(v)),
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
