package wire

import "errors"

// ErrorValue is the serialized form of a remote failure. Message and Stack
// survive the round-trip verbatim; Attrs carries any additional attributes
// the failing side chose to expose.
type ErrorValue struct {
	Message string         `json:"message"`
	Stack   string         `json:"stack,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

var _ error = (*ErrorValue)(nil)

func (e *ErrorValue) Error() string {
	return e.Message
}

// Attributer lets handler errors attach structured attributes that cross
// the wire alongside the message.
type Attributer interface {
	ErrorAttrs() map[string]any
}

// NormalizeError converts a handler failure into its wire form. Errors
// already normalized pass through unchanged so nothing is lost relaying a
// remote failure further.
func NormalizeError(err error) *ErrorValue {
	var ev *ErrorValue
	if errors.As(err, &ev) {
		return ev
	}
	norm := &ErrorValue{
		Message: err.Error(),
	}
	var attr Attributer
	if errors.As(err, &attr) {
		norm.Attrs = attr.ErrorAttrs()
	}
	return norm
}
