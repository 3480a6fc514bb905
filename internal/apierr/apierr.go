// Package apierr defines the Observatory error taxonomy (spec.md §7) as a
// tagged variant type, per the design note in spec.md §9 ("error kinds and
// job statuses are tagged variants, not subclasses").
package apierr

import "net/http"

// Kind is one of the fixed error kinds from spec.md §7.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindInvalidCredential    Kind = "invalid_credential"
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindRateLimited          Kind = "rate_limited"
	KindBusy                 Kind = "busy"
	KindTimeout              Kind = "timeout"
	KindParseError           Kind = "parse_error"
	KindBackendUnavailable   Kind = "backend_unavailable"
	KindInternal             Kind = "internal"
)

// statusByKind is the fixed kind→HTTP-status table (spec.md §7).
var statusByKind = map[Kind]int{
	KindInvalidInput:      http.StatusBadRequest,
	KindInvalidCredential:  http.StatusUnauthorized,
	KindUnauthorized:       http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindRateLimited:        http.StatusTooManyRequests,
	KindBusy:               http.StatusServiceUnavailable,
	KindTimeout:            http.StatusGatewayTimeout,
	KindParseError:         http.StatusUnprocessableEntity,
	KindBackendUnavailable: http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
}

// Status returns the HTTP status code for a kind, defaulting to 500.
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a kind-tagged error with a client-safe message. The message is
// always a static, sanitized string — never a wrapped internal error's
// Error() text for kind=internal (spec.md §10.3).
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a client-facing error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails attaches field-level detail (e.g. validation errors).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Wrap attaches an internal cause for logging without leaking it to clients.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Internal is shorthand for an internal-kind error wrapping cause, with a
// sanitized client message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "an internal error occurred", cause: cause}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
