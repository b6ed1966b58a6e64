package board

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agilekit/boardsync/internal/config"
)

// ErrUnsupported is returned by optional-capability operations on backends
// that lack them. The orchestrator reports it as an Unsupported outcome
// rather than a failure.
var ErrUnsupported = errors.New("operation not supported by this backend")

// ErrNotInitialized is returned when an adapter is used before Init.
type ErrNotInitialized struct {
	Backend config.BackendKind
}

func (e *ErrNotInitialized) Error() string {
	return fmt.Sprintf("%s adapter not initialized (call Init first)", e.Backend)
}

// UnmappedStateError reports a pipeline map with no entry for an abstract
// state. Never retried; the config file needs the entry.
type UnmappedStateError struct {
	Backend config.BackendKind
	State   State
}

func (e *UnmappedStateError) Error() string {
	return fmt.Sprintf("no %s pipeline mapped for state %q (add pipeline_map.%s to the board config)",
		e.Backend, e.State, e.State)
}

// NotFoundError reports a ticket that does not exist on the backend.
type NotFoundError struct {
	Ref TicketRef
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ticket %s not found", e.Ref)
}

// AuthError reports rejected or missing credentials. Never retried.
type AuthError struct {
	Backend config.BackendKind
	Reason  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Backend, e.Reason)
}

// ValidationError reports a request the backend rejected as malformed.
// Never retried; surfaced verbatim so the caller can self-correct.
type ValidationError struct {
	Backend config.BackendKind
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected request: %s", e.Backend, e.Reason)
}

// TransientError wraps a failure worth retrying: network timeout, connection
// reset, 5xx from the backend.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError wraps a rate-limit response. RetryAfter carries the
// backend-supplied delay when the response named one, else zero and the
// retry loop falls back to its default backoff.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s)", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Op)
}

// IsTransient reports whether err belongs to a retryable category.
func IsTransient(err error) bool {
	var transient *TransientError
	var rateLimit *RateLimitError
	return errors.As(err, &transient) || errors.As(err, &rateLimit)
}

// RetryAfterHint returns the backend-supplied backoff delay, if err carries
// one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) && rateLimit.RetryAfter > 0 {
		return rateLimit.RetryAfter, true
	}
	return 0, false
}

// ClassifyHTTPStatus maps an HTTP response to the error taxonomy. Adapters
// call it from their clients so every backend classifies failures the same
// way. A 2xx status returns nil.
func ClassifyHTTPStatus(backend config.BackendKind, op string, status int, body string, retryAfter string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Backend: backend, Reason: fmt.Sprintf("%s returned %d: %s", op, status, body)}
	case status == http.StatusNotFound:
		return &NotFoundError{Ref: TicketRef{Kind: backend}}
	case status == http.StatusTooManyRequests:
		var delay time.Duration
		if retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{Op: op, RetryAfter: delay}
	case status >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("backend returned %d: %s", status, body)}
	default:
		return &ValidationError{Backend: backend, Reason: fmt.Sprintf("%s returned %d: %s", op, status, body)}
	}
}
