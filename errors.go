package libfs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds. Every failure returned by the tree, cache and catalog wraps
// exactly one of these (ErrDegraded may be joined to another kind).
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrWrongKind        = errors.New("wrong node kind")
	ErrNotEmpty         = errors.New("directory not empty")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidVariant   = errors.New("invalid variant")
	ErrUnprocessable    = errors.New("unprocessable artifact")
	ErrStorage          = errors.New("storage error")
	// ErrDegraded marks a failure whose cleanup also failed, leaving
	// physical bytes without a row.
	ErrDegraded = errors.New("degraded state")
)

// ErrorKind names an error kind for callers mapping failures onto a
// transport (exit codes, status codes).
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindNotFound         ErrorKind = "NotFound"
	KindAlreadyExists    ErrorKind = "AlreadyExists"
	KindWrongKind        ErrorKind = "WrongKind"
	KindNotEmpty         ErrorKind = "NotEmpty"
	KindInvalidOperation ErrorKind = "InvalidOperation"
	KindInvalidVariant   ErrorKind = "InvalidVariant"
	KindUnprocessable    ErrorKind = "UnprocessableArtifact"
	KindStorage          ErrorKind = "StorageError"
	KindValidation       ErrorKind = "ValidationError"
	KindUnknown          ErrorKind = "Unknown"
)

// kindOrder is checked in order; NotFound precedes WrongKind so a kind
// mismatch at resolution reports as NotFound.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrWrongKind, KindWrongKind},
	{ErrNotEmpty, KindNotEmpty},
	{ErrInvalidOperation, KindInvalidOperation},
	{ErrInvalidVariant, KindInvalidVariant},
	{ErrUnprocessable, KindUnprocessable},
	{ErrStorage, KindStorage},
}

// KindOf returns the kind of err. A nil error has KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var verr *ValidationError
	if errors.As(err, &verr) && !errors.Is(err, ErrStorage) {
		return KindValidation
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// StorageError is the single error type backends surface. The tree layer
// only inspects it for success/failure and its message.
type StorageError struct {
	Op   string // backend operation, e.g. "write"
	Kind string // backend kind identifier
	Err  error
}

func (e *StorageError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// ValidationError carries per-field messages from backend option
// validation.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records msg for field and returns e for chaining.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
	return e
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid options: " + strings.Join(parts, "; ")
}
