package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

type ErrorCategory string

const (
	CategoryConnect          ErrorCategory = "CONNECT"           // DNS, refused, timeout while opening the transport
	CategoryQuery            ErrorCategory = "QUERY"             // Request write failure or non-success status
	CategoryTransientRead    ErrorCategory = "TRANSIENT_READ"    // Body read failure, recoverable by reconnect
	CategoryRetriesExhausted ErrorCategory = "RETRIES_EXHAUSTED" // Reconnect budget spent, connection failed
	CategoryIO               ErrorCategory = "IO"                // Local file system issues
	CategoryContext          ErrorCategory = "CONTEXT"           // Context cancellation
	CategoryUnknown          ErrorCategory = "UNKNOWN"           // Unclassified errors
)

// FetchError represents an error raised while fetching a segment chunk
type FetchError struct {
	Err        error         // Original error
	Category   ErrorCategory // General category
	Retryable  bool          // Whether the caller may try again on the same connection
	Timestamp  time.Time     // When the error occurred
	Resource   string        // host:port or path being accessed
	StatusCode int           // HTTP status code, 0 when no response was parsed
	Attempts   int           // Reconnect attempts made before giving up
}

// Error implements the error interface
func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("[%s] %s (status: %d): %v", e.Category, e.Resource, e.StatusCode, e.Err)
	case e.Attempts != 0:
		return fmt.Sprintf("[%s] %s (attempts: %d): %v", e.Category, e.Resource, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Resource, e.Err)
	}
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrTimeout          = New("operation timed out")
	ErrConnectionReset  = New("connection reset")
	ErrResourceNotFound = New("resource not found")
	ErrAccessDenied     = New("access denied")
	ErrAuthentication   = New("authentication required")
)

func newFetchError(err error, category ErrorCategory, resource string, retryable bool) *FetchError {
	return &FetchError{
		Err:       err,
		Category:  category,
		Retryable: retryable,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewConnectError creates an error for a failed transport open
func NewConnectError(err error, resource string) *FetchError {
	return newFetchError(err, CategoryConnect, resource, true)
}

// NewQueryError creates an error for a request that could not be written
// or whose response could not be read. The connection is considered stale.
func NewQueryError(err error, resource string) *FetchError {
	return newFetchError(err, CategoryQuery, resource, true)
}

// NewStatusError creates an error for a response with a non-success status.
// Status failures are never retried through a reconnect.
func NewStatusError(err error, resource string, statusCode int) *FetchError {
	e := newFetchError(err, CategoryQuery, resource, false)
	e.StatusCode = statusCode

	return e
}

// NewProtocolError creates an error for a response this client cannot consume.
// Reconnecting would get the same answer, so it is not retryable.
func NewProtocolError(err error, resource string) *FetchError {
	return newFetchError(err, CategoryQuery, resource, false)
}

// NewTransientReadError creates an error for a failed body read
func NewTransientReadError(err error, resource string) *FetchError {
	return newFetchError(err, CategoryTransientRead, resource, true)
}

// NewRetriesExhaustedError creates the terminal error of a failed persistent connection
func NewRetriesExhaustedError(err error, resource string, attempts int) *FetchError {
	e := newFetchError(err, CategoryRetriesExhausted, resource, false)
	e.Attempts = attempts

	return e
}

// NewIOError creates an I/O related error
func NewIOError(err error, resource string) *FetchError {
	return newFetchError(err, CategoryIO, resource, false)
}

// NewContextError creates a context cancellation error
func NewContextError(err error, resource string) *FetchError {
	return newFetchError(err, CategoryContext, resource, false)
}

// IsRetryable determines if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var fetchErr *FetchError
	if As(err, &fetchErr) {
		return fetchErr.Retryable
	}

	return false
}

// CategoryOf returns the category of err, CategoryUnknown when it carries none
func CategoryOf(err error) ErrorCategory {
	var fetchErr *FetchError
	if As(err, &fetchErr) {
		return fetchErr.Category
	}

	return CategoryUnknown
}

// IsRetriesExhausted reports whether err is the terminal failure of a persistent connection
func IsRetriesExhausted(err error) bool {
	return CategoryOf(err) == CategoryRetriesExhausted
}

// IsStatusError reports whether err was caused by a non-success HTTP status
func IsStatusError(err error) bool {
	code, ok := GetStatusCode(err)
	return ok && code != 0
}

// GetStatusCode extracts the status code from an error if available
func GetStatusCode(err error) (int, bool) {
	var fetchErr *FetchError
	if As(err, &fetchErr) {
		return fetchErr.StatusCode, true
	}

	return 0, false
}
