package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure independently of where it happened.
type Kind string

const (
	KindMissingCredential Kind = "missing-credential"
	KindModelNotFound     Kind = "model-not-found"
	KindInvalidRequest    Kind = "invalid-request"
	KindRateLimited       Kind = "rate-limited"
	KindAuthFailed        Kind = "auth-failed"
	KindTimeout           Kind = "timeout"
	KindProviderError     Kind = "provider-error"
	KindNetworkError      Kind = "network-error"
	KindBackingStore      Kind = "backing-store-error"
	KindShuttingDown      Kind = "shutting-down"
)

// Error is the typed error surfaced by the registry, catalog client and
// completion facade. Optional fields are only meaningful for some kinds.
type Error struct {
	Kind    Kind
	Message string

	// invalid-request
	Field string
	Value any

	// rate-limited
	RetryAfter time.Duration

	// provider-error
	Retryable bool

	// Upstream HTTP status, zero when the failure did not come from a response.
	StatusCode int

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field=%s value=%v)", e.Field, e.Value)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap leaves typed errors untouched and turns anything else into a
// non-retryable provider error.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return &Error{Kind: KindProviderError, Message: "unexpected failure", Err: err}
}

func MissingCredential(name string) *Error {
	return &Error{Kind: KindMissingCredential, Message: name + " is required"}
}

func ModelNotFound(modelID string) *Error {
	return &Error{Kind: KindModelNotFound, Message: fmt.Sprintf("model %q not found", modelID)}
}

func InvalidRequest(field string, value any, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message, Field: field, Value: value}
}

func RateLimited(retryAfter time.Duration, message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter, StatusCode: 429}
}

func AuthFailed(status int, message string) *Error {
	return &Error{Kind: KindAuthFailed, Message: message, StatusCode: status}
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
}

func ProviderError(status int, message string, retryable bool) *Error {
	return &Error{Kind: KindProviderError, Message: message, StatusCode: status, Retryable: retryable}
}

func Network(err error) *Error {
	return &Error{Kind: KindNetworkError, Message: "request failed", Err: err}
}

func BackingStore(message string, err error) *Error {
	return &Error{Kind: KindBackingStore, Message: message, Err: err}
}

func ShuttingDown() *Error {
	return &Error{Kind: KindShuttingDown, Message: "service is shutting down"}
}
