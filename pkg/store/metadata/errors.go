package metadata

import (
	"errors"
	"fmt"
)

// StoreError represents a business error from resource store operations.
//
// These are domain errors (unknown domain, ambiguous key, quota exhausted) as
// opposed to infrastructure errors, which are wrapped with fmt.Errorf. Callers
// translate the Code into their own representation (HTTP status, exit code).
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the filesystem path or identifier related to the error (if any)
	Path string

	// Matches carries every conflicting Resource for ErrConflict
	Matches []*Resource

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Code == ErrConflict && len(e.Matches) > 0 {
		msg += fmt.Sprintf(" (%d matches)", len(e.Matches))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a StoreError.
type ErrorCode int

const (
	// ErrNotFound indicates an unknown Domain identifier or Resource
	ErrNotFound ErrorCode = iota

	// ErrConflict indicates a key resolved to more than one Resource
	ErrConflict

	// ErrCapacityExceeded indicates eviction could not free enough space
	ErrCapacityExceeded

	// ErrIOError indicates a file move, read or size error
	ErrIOError

	// ErrInvariantViolation indicates an internal bookkeeping mismatch,
	// e.g. a record missing right after it was committed
	ErrInvariantViolation

	// ErrInvalidArgument indicates invalid parameters were provided
	ErrInvalidArgument

	// ErrReadOnly indicates a write attempted through a read-only view
	ErrReadOnly

	// ErrClosed indicates the store or manager has been shut down
	ErrClosed

	// ErrBusy indicates the manager queue is full
	ErrBusy
)

var errorCodeNames = map[ErrorCode]string{
	ErrNotFound:           "not_found",
	ErrConflict:           "conflict",
	ErrCapacityExceeded:   "capacity_exceeded",
	ErrIOError:            "io_failure",
	ErrInvariantViolation: "invariant_violation",
	ErrInvalidArgument:    "invalid_argument",
	ErrReadOnly:           "read_only",
	ErrClosed:             "closed",
	ErrBusy:               "busy",
}

// String returns the snake_case name of the code, used in logs and metrics labels.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error_code_%d", int(c))
}

// NewNotFoundError creates an ErrNotFound error.
func NewNotFoundError(what, id string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: what + " not found", Path: id}
}

// NewConflictError creates an ErrConflict error carrying every match.
func NewConflictError(domainID string, matches []*Resource) *StoreError {
	return &StoreError{
		Code:    ErrConflict,
		Message: "multiple resources match key",
		Path:    domainID,
		Matches: matches,
	}
}

// NewCapacityError reports that eviction could not free enough space.
func NewCapacityError(message, path string) *StoreError {
	return &StoreError{Code: ErrCapacityExceeded, Message: message, Path: path}
}

// NewIOError wraps an I/O failure on path.
func NewIOError(message, path string, err error) *StoreError {
	return &StoreError{Code: ErrIOError, Message: message, Path: path, Err: err}
}

// NewInvariantError reports an internal bookkeeping mismatch.
func NewInvariantError(message, path string) *StoreError {
	return &StoreError{Code: ErrInvariantViolation, Message: message, Path: path}
}

// NewInvalidArgumentError reports a bad parameter.
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: message}
}

// NewClosedError reports use of a store or manager after Close.
func NewClosedError(what string) *StoreError {
	return &StoreError{Code: ErrClosed, Message: what + " closed"}
}

// CodeOf returns the ErrorCode of err and whether err is a StoreError.
func CodeOf(err error) (ErrorCode, bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code, true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err is an ErrNotFound StoreError.
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

// IsConflict reports whether err is an ErrConflict StoreError.
func IsConflict(err error) bool { return hasCode(err, ErrConflict) }

// IsCapacityExceeded reports whether err is an ErrCapacityExceeded StoreError.
func IsCapacityExceeded(err error) bool { return hasCode(err, ErrCapacityExceeded) }

// IsIOError reports whether err is an ErrIOError StoreError.
func IsIOError(err error) bool { return hasCode(err, ErrIOError) }

// IsInvariantViolation reports whether err is an ErrInvariantViolation StoreError.
func IsInvariantViolation(err error) bool { return hasCode(err, ErrInvariantViolation) }

// IsInvalidArgument reports whether err is an ErrInvalidArgument StoreError.
func IsInvalidArgument(err error) bool { return hasCode(err, ErrInvalidArgument) }

// IsClosed reports whether err is an ErrClosed StoreError.
func IsClosed(err error) bool { return hasCode(err, ErrClosed) }

// ConflictMatches returns the Resources attached to an ErrConflict, or nil.
func ConflictMatches(err error) []*Resource {
	var storeErr *StoreError
	if errors.As(err, &storeErr) && storeErr.Code == ErrConflict {
		return storeErr.Matches
	}
	return nil
}
