package joinconfig

import "fmt"

// ConfigValidationError reports a configuration field that violates a rule
type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
	Err    error
}

func (e *ConfigValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigValidationError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError reports a value outside a closed set (join type, store type, schema type...)
type UnsupportedTypeError struct {
	Kind  string
	Value string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported %s type %q", e.Kind, e.Value)
}

func newValidationError(field string, value interface{}, reason string) error {
	return &ConfigValidationError{Field: field, Value: value, Reason: reason}
}

func unsupported(field, kind, value string) error {
	return &ConfigValidationError{
		Field:  field,
		Value:  value,
		Reason: "not supported",
		Err:    &UnsupportedTypeError{Kind: kind, Value: value},
	}
}
