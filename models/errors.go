package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors of the index taxonomy. Every error returned by the index,
// the storage drivers and the adapters matches exactly one of them with
// errors.Is.
var (
	ErrNotFound                = errors.New("not found")
	ErrDuplicateID             = errors.New("duplicate id")
	ErrValidationFailed        = errors.New("validation failed")
	ErrUnsupportedMutation     = errors.New("unsupported mutation")
	ErrUnsupportedQuery        = errors.New("unsupported query")
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")
	ErrInconsistent            = errors.New("inconsistent reference")
)

var errorCodes = []struct {
	sentinel error
	code     string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrDuplicateID, "DUPLICATE_ID"},
	{ErrValidationFailed, "VALIDATION_FAILED"},
	{ErrUnsupportedMutation, "UNSUPPORTED_MUTATION"},
	{ErrUnsupportedQuery, "UNSUPPORTED_QUERY"},
	{ErrBackingStoreUnavailable, "BACKING_STORE_UNAVAILABLE"},
	{ErrInconsistent, "INCONSISTENT"},
}

// Error is the structured error carried through the index. Kind and ID name
// the record involved when there is one, Fields holds per-field validation
// messages and Cause the underlying driver or decoding error.
type Error struct {
	Sentinel error
	Kind     Kind
	ID       string
	Detail   string
	Fields   map[string]string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Sentinel.Error())
	if e.Kind != "" {
		fmt.Fprintf(&b, ": %s", e.Kind)
		if e.ID != "" {
			fmt.Fprintf(&b, " %q", e.ID)
		}
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Code returns the stable code of the error's sentinel.
func (e *Error) Code() string {
	return CodeOf(e.Sentinel)
}

// CodeOf returns the stable code for err, or "INTERNAL" when err does not
// belong to the taxonomy.
func CodeOf(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return "INTERNAL"
}

// NotFound reports a missing record.
func NotFound(kind Kind, id string) *Error {
	return &Error{Sentinel: ErrNotFound, Kind: kind, ID: id}
}

// DuplicateID reports a create with a colliding id.
func DuplicateID(kind Kind, id string) *Error {
	return &Error{Sentinel: ErrDuplicateID, Kind: kind, ID: id}
}

// Validation reports missing or ill-typed attributes.
func Validation(kind Kind, id, detail string, fields map[string]string) *Error {
	return &Error{Sentinel: ErrValidationFailed, Kind: kind, ID: id, Detail: detail, Fields: fields}
}

// UnsupportedMutation reports a structural edit the envelope cannot represent.
func UnsupportedMutation(kind Kind, id, op string) *Error {
	return &Error{Sentinel: ErrUnsupportedMutation, Kind: kind, ID: id, Detail: op}
}

// UnsupportedQuery reports an accessor that has no meaning for a variant.
func UnsupportedQuery(kind Kind, id, op string) *Error {
	return &Error{Sentinel: ErrUnsupportedQuery, Kind: kind, ID: id, Detail: op}
}

// Unavailable wraps a transport or I/O failure of the backing store.
func Unavailable(op string, cause error) *Error {
	return &Error{Sentinel: ErrBackingStoreUnavailable, Detail: op, Cause: cause}
}

// Inconsistent reports a foreign key that resolves to nothing.
func Inconsistent(kind Kind, id string, ref Reference) *Error {
	detail := fmt.Sprintf("%s references missing %s", ref.Field, ref.ID)
	if ref.Kind != "" {
		detail = fmt.Sprintf("%s references missing %s %q", ref.Field, ref.Kind, ref.ID)
	}
	return &Error{Sentinel: ErrInconsistent, Kind: kind, ID: id, Detail: detail}
}

// SentinelOf returns the sentinel whose stable code is code, nil when code is
// not part of the taxonomy.
func SentinelOf(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.sentinel
		}
	}
	return nil
}
