package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is wrapped by rate-limit errors once all attempts are used.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is wrapped when the context ends during a retry backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// Kind is the closed failure taxonomy shared by the executor, the resolver,
// the fetch orchestrator and the batch driver.
type Kind string

const (
	// KindNetwork is a transport failure (connect, reset, DNS).
	KindNetwork Kind = "network"

	// KindTimeout is a request that hit the client timeout or a deadline.
	KindTimeout Kind = "timeout"

	// KindAuth is an HTTP 401 or an API key rejection. The key must be fixed.
	KindAuth Kind = "auth"

	// KindClient is any other 4xx, or an unusable 2xx payload.
	KindClient Kind = "client"

	// KindRateLimitExceeded is a 429 that survived every retry, or a quota refusal.
	KindRateLimitExceeded Kind = "rate_limit_exceeded"

	// KindServer is a 5xx response.
	KindServer Kind = "server"

	// KindNotFound is a region name absent from the catalog.
	KindNotFound Kind = "not_found"

	// KindNoData is a region that produced zero usable records.
	KindNoData Kind = "no_data"

	// KindAlreadyExists is a refusal to overwrite persisted data without force.
	KindAlreadyExists Kind = "already_exists"

	// KindException is anything unclassified.
	KindException Kind = "exception"
)

// Error carries a Kind plus the structured context needed to act on it.
type Error struct {
	Kind     Kind
	Status   int
	Endpoint string
	Attempts int
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Endpoint)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, &client.Error{Kind: client.KindAuth}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an *Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err. Errors without a Kind are KindException.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindException
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// shouldRetry reports whether err is a rate-limit signal worth another attempt.
// Only an actual HTTP 429 qualifies; quota refusals in the payload do not.
func shouldRetry(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindRateLimitExceeded && e.Status == 429
}
