// Package apierr maps internal failures onto the fixed HTTP error-kind
// table the bridge's REST surface promises callers.
package apierr

import "net/http"

// Kind is one of the finite error kinds surfaced at the API boundary.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindPolicyViolation   Kind = "policy_violation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindRemoteUnreachable Kind = "remote_unreachable"
	KindRemoteTimeout     Kind = "remote_timeout"
	KindRemoteError       Kind = "remote_error"
	KindInternal          Kind = "internal"
)

// statusByKind is the fixed HTTP status for each kind.
var statusByKind = map[Kind]int{
	KindInvalidRequest:    http.StatusBadRequest,
	KindPolicyViolation:   http.StatusForbidden,
	KindNotFound:          http.StatusNotFound,
	KindConflict:          http.StatusConflict,
	KindRemoteUnreachable: http.StatusBadGateway,
	KindRemoteTimeout:     http.StatusGatewayTimeout,
	KindRemoteError:       http.StatusBadGateway,
	KindInternal:          http.StatusInternalServerError,
}

// Error is the error type carried across component boundaries up to the
// HTTP surface. A plain error from a lower layer is wrapped as
// KindInternal by the surface if it never passed through New.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for e's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, preserving cause for %w
// unwrapping and logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Envelope is the consistent error body shape every REST response uses:
// {"detail": "..."}.
type Envelope struct {
	Detail string `json:"detail"`
}

// AsAPIError extracts an *Error from any error, defaulting to
// KindInternal when err was not constructed via this package.
func AsAPIError(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return &Error{Kind: KindInternal, Message: "internal error", Cause: err}
}
