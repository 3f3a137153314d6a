// Package errors defines the error taxonomy shared by the sidesync
// components: configuration, resource, synchronization, and server
// failures, each carrying a stable code.
//
// Errors render as "[CODE] message" so log lines and audit records stay
// greppable by code. Callers classify with the predicates rather than
// string matching:
//
//	if syncerrors.Is(err, syncerrors.CodePortUnavailable) {
//	    // every candidate port was occupied
//	}
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies a failure class. Codes are stable across releases and
// appear in audit records and error callbacks.
type Code string

// Configuration errors, raised at construction time and never defaulted
// away.
const (
	CodeInvalidParameter Code = "CFG001"
	CodeConfigNotFound   Code = "CFG002"
	CodeConfigParse      Code = "CFG003"
	CodeConfigInvalid    Code = "CFG004"
)

// Resource errors.
const (
	CodePortUnavailable   Code = "REC001"
	CodeFileLocked        Code = "REC002"
	CodeOutOfMemory       Code = "REC003"
	CodeMissingDependency Code = "REC004"
)

// Synchronization errors.
const (
	CodeFileNotFound  Code = "SYNC001"
	CodeInvalidFormat Code = "SYNC002"
	CodePermission    Code = "SYNC003"
	CodeTimeout       Code = "SYNC004"
	CodeCorruptedData Code = "SYNC005"
)

// Server errors.
const (
	CodePortOccupied  Code = "SRV001"
	CodeStartFailure  Code = "SRV002"
	CodeStopFailure   Code = "SRV003"
	CodeNotResponsive Code = "SRV004"
)

// Sentinel errors for lifecycle states. Check with errors.Is().
var (
	// ErrNotRunning is returned when an operation requires a running
	// server or watcher but it is stopped.
	ErrNotRunning = errors.New("not running")

	// ErrClosed is returned when an operation is attempted on a
	// provider or trail that has been closed.
	ErrClosed = errors.New("already closed")
)

// Error is the concrete error type carrying taxonomy metadata.
// The zero value is not useful; use the constructors.
type Error struct {
	// Code is the taxonomy code, e.g. SYNC002.
	Code Code

	// Component names the emitting component ("webserver", "datasync",
	// "store", ...). Optional.
	Component string

	// Message is the human-readable description.
	Message string

	// Err is the wrapped cause, if any.
	Err error

	// Metadata carries structured context (ports tried, file path, ...).
	Metadata map[string]any

	// Retryable indicates the failure may clear on a later attempt.
	Retryable bool
}

// Error renders "[CODE] message" with the cause appended when present.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a context value and returns the error for
// chaining.
func (e *Error) WithMetadata(key string, value any) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// NewSync creates a synchronization error wrapping cause.
func NewSync(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Component: "sync",
		Message:   message,
		Err:       cause,
		Retryable: code == CodeTimeout,
	}
}

// NewServer creates a server lifecycle error wrapping cause.
func NewServer(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Component: "webserver",
		Message:   message,
		Err:       cause,
	}
}

// NewResource creates a resource-unavailable error. The ports slice, when
// non-empty, is recorded in metadata and appended to the message so the
// operator sees every port that was tried.
func NewResource(code Code, message string, ports []int) *Error {
	e := &Error{
		Code:      code,
		Component: "webserver",
		Message:   message,
		Retryable: code == CodeFileLocked,
	}
	if len(ports) > 0 {
		sorted := append([]int(nil), ports...)
		sort.Ints(sorted)
		e.WithMetadata("ports_tried", sorted)
		e.Message = fmt.Sprintf("%s (tried %s)", message, joinInts(sorted))
	}
	return e
}

// NewConfig creates a configuration error for a single invalid parameter.
func NewConfig(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Component: "config",
		Message:   message,
		Err:       cause,
	}
}

// NewValidation creates a CFG004 error aggregating every violation found,
// one per line. Construction-time validators collect all problems before
// failing instead of stopping at the first.
func NewValidation(component string, violations []string) *Error {
	msg := fmt.Sprintf("%s validation failed:\n- %s",
		component, strings.Join(violations, "\n- "))
	return &Error{
		Code:      CodeConfigInvalid,
		Component: component,
		Message:   msg,
		Metadata:  map[string]any{"violations": violations},
	}
}

// CodeOf extracts the taxonomy code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given taxonomy code anywhere in its
// chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Violations returns the aggregated violation list from a validation
// error, or nil for any other error.
func Violations(err error) []string {
	var e *Error
	if !errors.As(err, &e) || e.Metadata == nil {
		return nil
	}
	v, _ := e.Metadata["violations"].([]string)
	return v
}

// IsRetryable reports whether the failure may clear on a later attempt.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsConfig reports whether err is a construction-time configuration
// failure.
func IsConfig(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "CFG")
}

// IsSync reports whether err is a synchronization failure.
func IsSync(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "SYNC")
}

// IsServer reports whether err is a server lifecycle failure.
func IsServer(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "SRV")
}

// IsResource reports whether err is a resource-unavailable failure.
func IsResource(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "REC")
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
