// Package dsl provides the runtime primitives shared by every workflow
// node: the structured error type, the expression evaluator, and the
// JSON-Schema validator.
package dsl

import (
	"errors"
	"fmt"
)

// Kind is one of the stable error-type identifiers from the Serverless
// Workflow DSL error taxonomy.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindExpression    Kind = "expression"
	KindAuthentication Kind = "authentication"
	KindAuthorization Kind = "authorization"
	KindTimeout       Kind = "timeout"
	KindCommunication Kind = "communication"
	KindRuntime       Kind = "runtime"
)

// defaultStatus returns the HTTP-like default status for a Kind.
func defaultStatus(k Kind) int {
	switch k {
	case KindConfiguration, KindValidation, KindExpression:
		return 400
	case KindAuthentication:
		return 401
	case KindAuthorization:
		return 403
	case KindTimeout:
		return 408
	case KindCommunication, KindRuntime:
		return 500
	default:
		return 500
	}
}

// Error is the first-class JSON error record raised by nodes and
// exposed to catch blocks as `$<errorAs>`.
type Error struct {
	Type     Kind                   `json:"type"`
	Status   int                    `json:"status"`
	Instance string                 `json:"instance"`
	Title    string                 `json:"title"`
	Details  map[string]interface{} `json:"details,omitempty"`

	wrapped error
}

// New builds an Error with the default status for its kind.
func New(kind Kind, instance, title string) *Error {
	return &Error{Type: kind, Status: defaultStatus(kind), Instance: instance, Title: title}
}

// Newf builds an Error with a formatted title.
func Newf(kind Kind, instance, format string, args ...interface{}) *Error {
	return New(kind, instance, fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying Go error for logging/unwrapping, leaving
// the structured fields intact.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

// WithDetail attaches one detail key/value and returns the receiver for
// chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Title, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Title)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.wrapped
}

// AsJSON projects the error into the map shape bound to `$<errorAs>`
// inside catch/retry expression scopes.
func (e *Error) AsJSON() map[string]interface{} {
	m := map[string]interface{}{
		"type":     string(e.Type),
		"status":   e.Status,
		"instance": e.Instance,
		"title":    e.Title,
	}
	if e.Details != nil {
		m["details"] = e.Details
	}
	return m
}

// Matches implements the `errors.with` exact-match rule from the
// Try/Retry engine: every present field on `want` must equal the
// corresponding field on e.
func (e *Error) Matches(want *Error) bool {
	if want == nil {
		return true
	}
	if want.Type != "" && want.Type != e.Type {
		return false
	}
	if want.Status != 0 && want.Status != e.Status {
		return false
	}
	if want.Instance != "" && want.Instance != e.Instance {
		return false
	}
	if want.Title != "" && want.Title != e.Title {
		return false
	}
	for k, v := range want.Details {
		if e.Details == nil {
			return false
		}
		ev, ok := e.Details[k]
		if !ok || fmt.Sprint(ev) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// AsError converts any Go error into a dsl.Error, wrapping it as a
// RUNTIME error if it isn't already one.
func AsError(instance string, err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return New(KindRuntime, instance, err.Error()).Wrap(err)
}
