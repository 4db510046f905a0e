// Package docerr defines structured error types for the document mapper.
package docerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of mapper error.
type Kind string

const (
	// KindMissingField is returned when a required field is absent at construction
	KindMissingField Kind = "MISSING_FIELD"
	// KindFieldInvalid is returned when a field value fails a type rule
	KindFieldInvalid Kind = "FIELD_INVALID"
	// KindCardinalityViolation is returned when an array has too few or too many elements
	KindCardinalityViolation Kind = "CARDINALITY_VIOLATION"
	// KindUnknownField is returned when accessing a field the schema does not declare
	KindUnknownField Kind = "UNKNOWN_FIELD"

	// KindInvalidSchema is returned for a malformed schema declaration
	KindInvalidSchema Kind = "INVALID_SCHEMA"
	// KindNoConnection is returned when no store is bound
	KindNoConnection Kind = "NO_CONNECTION"

	// KindUpdateFailed is returned when an update matched no document
	KindUpdateFailed Kind = "UPDATE_FAILED"
	// KindNotFound is returned when a remove matched no document
	KindNotFound Kind = "NOT_FOUND"

	// KindMissingCallback is returned when an asynchronous operation is given no continuation
	KindMissingCallback Kind = "MISSING_CALLBACK"
)

// Error is a mapper error with a kind, the field it relates to, and optional
// details.
type Error struct {
	kind       Kind
	field      string
	message    string
	details    map[string]any
	wrappedErr error
	sentinel   bool
}

// New creates a new Error.
func New(kind Kind, field, message string) *Error {
	return &Error{
		kind:    kind,
		field:   field,
		message: message,
		details: make(map[string]any),
	}
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.message
	if e.field != "" {
		msg = e.field + ": " + msg
	}
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", msg, e.wrappedErr)
	}
	return msg
}

// Kind returns the error kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Field returns the field path the error relates to, if any.
func (e *Error) Field() string {
	return e.field
}

// Message returns the message without the field prefix.
func (e *Error) Message() string {
	return e.message
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is matches sentinel errors of the same kind, so errors.Is(err, ErrNotFound)
// holds for any NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.kind == e.kind
}

// Prefixed returns a copy of e whose field path is nested under prefix.
func (e *Error) Prefixed(prefix string) *Error {
	c := *e
	if c.field == "" {
		c.field = prefix
	} else {
		c.field = prefix + "." + c.field
	}
	return &c
}

func sentinel(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message, sentinel: true}
}

// Sentinels for errors.Is.
var (
	ErrMissingField         = sentinel(KindMissingField, "missing required field")
	ErrFieldInvalid         = sentinel(KindFieldInvalid, "invalid field")
	ErrCardinalityViolation = sentinel(KindCardinalityViolation, "cardinality violation")
	ErrUnknownField         = sentinel(KindUnknownField, "unknown field")
	ErrInvalidSchema        = sentinel(KindInvalidSchema, "invalid schema")
	ErrNoConnection         = sentinel(KindNoConnection, "no db connection found")
	ErrUpdateFailed         = sentinel(KindUpdateFailed, "update failed")
	ErrNotFound             = sentinel(KindNotFound, "not found")
	ErrMissingCallback      = sentinel(KindMissingCallback, "missing callback")
)

// Predefined error constructors for common cases

// MissingField creates an error for a required field absent at construction.
func MissingField(field string) *Error {
	return New(KindMissingField, field, fmt.Sprintf("Missing required field %s", field))
}

// FieldInvalid creates an error for a field failing validation.
func FieldInvalid(field, reason string) *Error {
	return New(KindFieldInvalid, field, reason)
}

// CardinalityViolation creates an error for an array outside its bounds.
// max < 0 means unbounded.
func CardinalityViolation(field string, n, minimum, maximum int) *Error {
	bound := fmt.Sprintf("%d:n", minimum)
	if maximum >= 0 {
		bound = fmt.Sprintf("%d:%d", minimum, maximum)
	}
	return New(KindCardinalityViolation, field, fmt.Sprintf("has %d elements, want %s", n, bound)).
		WithDetail("count", n).
		WithDetail("min", minimum).
		WithDetail("max", maximum)
}

// UnknownField creates an error for a field the schema does not declare.
func UnknownField(schema, field string) *Error {
	return New(KindUnknownField, field, fmt.Sprintf("schema %s has no field %s", schema, field))
}

// InvalidSchema creates an error for a malformed schema declaration.
func InvalidSchema(schema, message string) *Error {
	return New(KindInvalidSchema, "", fmt.Sprintf("schema %s: %s", schema, message))
}

// NoConnection creates an error for an operation with no bound store.
func NoConnection() *Error {
	return New(KindNoConnection, "", "no db connection found")
}

// UpdateFailed creates an error for an update that matched no document.
func UpdateFailed(id any) *Error {
	return New(KindUpdateFailed, "", fmt.Sprintf("Failed to update record with _id %v", id)).WithDetail("id", id)
}

// NotFound creates an error for a document that does not exist.
func NotFound(collection string, id any) *Error {
	return New(KindNotFound, "", fmt.Sprintf("document %v not found in %s", id, collection)).WithDetail("id", id)
}

// MissingCallback creates an error for an asynchronous call without continuation.
func MissingCallback(op string) *Error {
	return New(KindMissingCallback, "", fmt.Sprintf("%s requires a callback as operations are async", op))
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

// List is an ordered, non-empty list of errors produced by one validation.
type List []*Error

// Error summarizes the first few errors.
func (l List) Error() string {
	if len(l) == 0 {
		return ""
	}
	const maxShown = 3
	b := &strings.Builder{}
	lim := min(len(l), maxShown)
	for i := range lim {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(l[i].Error())
	}
	if len(l) > lim {
		fmt.Fprintf(b, "; ... (total %d)", len(l))
	}
	return b.String()
}

// Is reports whether any error in the list matches target.
func (l List) Is(target error) bool {
	for _, e := range l {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

// AsList extracts a List from err.
func AsList(err error) (List, bool) {
	if err == nil {
		return nil, false
	}
	var l List
	if errors.As(err, &l) {
		return l, true
	}
	return nil, false
}
