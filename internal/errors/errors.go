// Package errors provides structured error types for incsync.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for incsync.
const (
	// Workspace errors
	CodeNotInitialized    Code = "NOT_INITIALIZED"
	CodeIncrementNotFound Code = "INCREMENT_NOT_FOUND"
	CodeDocumentMissing   Code = "DOCUMENT_MISSING"

	// Text errors
	CodeParse Code = "PARSE_ERROR"

	// Lifecycle errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// External sync errors
	CodeNetwork      Code = "NETWORK_ERROR"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeServer       Code = "SERVER_ERROR"
	CodeNonRetryable Code = "NON_RETRYABLE"
	CodeMaxRetries   Code = "MAX_RETRIES_EXCEEDED"

	// Duplicate resolution
	CodeConflictResolution Code = "CONFLICT_RESOLUTION_FAILED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for exit status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryUnavailable
)

var codeCategories = map[Code]Category{
	CodeNotInitialized:     CategoryBadRequest,
	CodeIncrementNotFound:  CategoryNotFound,
	CodeDocumentMissing:    CategoryNotFound,
	CodeParse:              CategoryBadRequest,
	CodeInvalidTransition:  CategoryBadRequest,
	CodeNetwork:            CategoryUnavailable,
	CodeRateLimited:        CategoryUnavailable,
	CodeServer:             CategoryUnavailable,
	CodeNonRetryable:       CategoryBadRequest,
	CodeMaxRetries:         CategoryInternal,
	CodeConflictResolution: CategoryConflict,
	CodeConfigInvalid:      CategoryBadRequest,
}

// ExitCode returns the process exit code for a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryNotFound:
		return 3
	case CategoryBadRequest:
		return 2
	case CategoryConflict:
		return 4
	case CategoryUnavailable:
		return 5
	default:
		return 1
	}
}

// Error is the structured error type for incsync.
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`

	// Details carries machine-readable context, e.g. the valid targets of a
	// rejected transition.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Cause = err
	return &cp
}

// Retryable reports whether the code belongs to the retryable class.
func (c Code) Retryable() bool {
	return c == CodeNetwork || c == CodeRateLimited || c == CodeServer
}

// Sentinels usable with errors.Is. Matching is by code only.
var (
	ErrParse              = &Error{Code: CodeParse}
	ErrInvalidTransition  = &Error{Code: CodeInvalidTransition}
	ErrIncrementNotFound  = &Error{Code: CodeIncrementNotFound}
	ErrDocumentMissing    = &Error{Code: CodeDocumentMissing}
	ErrNonRetryable       = &Error{Code: CodeNonRetryable}
	ErrMaxRetriesExceeded = &Error{Code: CodeMaxRetries}
	ErrConflict           = &Error{Code: CodeConflictResolution}
)

// --- Error constructors ---

// ErrNotInitialized returns an error for a directory without a workspace.
func ErrNotInitialized(root string) *Error {
	return &Error{
		Code: CodeNotInitialized,
		What: "incsync workspace not found",
		Why:  fmt.Sprintf("no .incsync/increments directory under %s", root),
		Fix:  "Run commands from the project root or pass --root",
	}
}

// NewIncrementNotFound returns an error when an increment doesn't exist.
func NewIncrementNotFound(id string) *Error {
	return &Error{
		Code: CodeIncrementNotFound,
		What: fmt.Sprintf("increment %s not found", id),
		Why:  "No increment directory matches this ID",
		Fix:  "List increments with 'incsync wip' or check the ID prefix",
	}
}

// NewDocumentMissing returns an error when one of the authoritative documents is absent.
func NewDocumentMissing(id, doc string) *Error {
	return &Error{
		Code: CodeDocumentMissing,
		What: fmt.Sprintf("increment %s has no %s", id, doc),
		Why:  "Every increment needs exactly one spec.md and one tasks.md",
		Fix:  fmt.Sprintf("Restore %s from version control or recreate it", doc),
	}
}

// NewParseError describes one excluded item. Parse errors are collected, never returned alone.
func NewParseError(line int, reason string) *Error {
	return &Error{
		Code:    CodeParse,
		What:    fmt.Sprintf("line %d", line),
		Why:     reason,
		Details: map[string]any{"line": line},
	}
}

// NewInvalidTransition returns the error for a rejected lifecycle transition.
func NewInvalidTransition(id, from, to string, valid []string) *Error {
	validList := "none (terminal status)"
	if len(valid) > 0 {
		validList = strings.Join(valid, ", ")
	}
	return &Error{
		Code: CodeInvalidTransition,
		What: fmt.Sprintf("cannot transition increment %s from %s to %s", id, from, to),
		Why:  fmt.Sprintf("valid targets from %s: %s", from, validList),
		Fix:  "Choose one of the valid target statuses",
		Details: map[string]any{
			"from":  from,
			"to":    to,
			"valid": valid,
		},
	}
}

// NewRetryable wraps err in one of the retryable classes.
func NewRetryable(code Code, err error) *Error {
	if !code.Retryable() {
		code = CodeServer
	}
	return &Error{
		Code:  code,
		What:  "external call failed",
		Why:   strings.ToLower(strings.ReplaceAll(string(code), "_", " ")),
		Cause: err,
	}
}

// NewNonRetryable marks err as never worth retrying.
func NewNonRetryable(err error) *Error {
	return &Error{
		Code:  CodeNonRetryable,
		What:  "external call rejected",
		Cause: err,
	}
}

// NewMaxRetries returns an error when the retry budget is exhausted.
func NewMaxRetries(attempts int, last error) *Error {
	return &Error{
		Code:  CodeMaxRetries,
		What:  fmt.Sprintf("operation failed after %d attempts", attempts),
		Why:   "Maximum retry attempts exceeded",
		Fix:   "Check tracker availability and credentials, then re-run the sync",
		Cause: last,
	}
}

// NewConflictResolution returns an error for one failed duplicate resolution.
func NewConflictResolution(number string, err error) *Error {
	return &Error{
		Code:  CodeConflictResolution,
		What:  fmt.Sprintf("could not resolve duplicate increment %s", number),
		Fix:   "Inspect the locations manually and re-run with --dry-run first",
		Cause: err,
	}
}

// NewConfigInvalid returns an error for invalid configuration.
func NewConfigInvalid(field, reason string) *Error {
	return &Error{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .incsync/config.yaml and fix the invalid field",
	}
}

// AsError attempts to convert an error to an *Error.
// Returns nil if the chain contains none.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) Code {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return ""
}

// Wrap wraps a generic error into an Error with unknown code.
func Wrap(err error, what string) *Error {
	return &Error{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
