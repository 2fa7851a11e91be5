// Package gwerrors defines the gateway's typed error hierarchy: sentinel
// errors plus wrapped struct errors with Unwrap, classified into the HTTP
// status the gateway replies with.
package gwerrors

import (
	"errors"
	"fmt"
)

// ConfigError is fatal at startup: invalid or missing configuration.
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ProviderDisabledError is returned when a request targets a provider whose
// enabled predicate (API key presence, ChatGPT auth presence) fails.
type ProviderDisabledError struct {
	Provider string
	Reason   string
}

func (e *ProviderDisabledError) Error() string {
	return fmt.Sprintf("provider %q disabled: %s", e.Provider, e.Reason)
}

// ValidationContext locates a validation failure within the inbound body.
type ValidationContext struct {
	Field  string
	Reason string
}

// ValidationError carries every field-path violation found while checking
// an inbound request body (required fields, numeric ranges, enum membership).
type ValidationError struct {
	Violations []ValidationContext
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	msg := "validation failed: "
	for i, v := range e.Violations {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return msg
}

func (e *ValidationError) Add(field, reason string) {
	e.Violations = append(e.Violations, ValidationContext{Field: field, Reason: reason})
}

// HasErrors reports whether any violation has been recorded.
func (e *ValidationError) HasErrors() bool { return len(e.Violations) > 0 }

// UpstreamAuthError surfaces an upstream 401. In ChatGPT auth mode the Codex
// adapter first makes its single refresh+retry; the API-key adapters return
// it on the first 401.
type UpstreamAuthError struct {
	Provider string
	Cause    error
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed for %s: %v", e.Provider, e.Cause)
}
func (e *UpstreamAuthError) Unwrap() error { return e.Cause }

// UpstreamRateLimitError surfaces a 429 after retry exhaustion.
type UpstreamRateLimitError struct {
	Provider          string
	RetryAfterSeconds *int
}

func (e *UpstreamRateLimitError) Error() string {
	if e.RetryAfterSeconds != nil {
		return fmt.Sprintf("rate limited by %s, retry after %ds", e.Provider, *e.RetryAfterSeconds)
	}
	return fmt.Sprintf("rate limited by %s", e.Provider)
}

// UpstreamClientError is a non-retryable 4xx other than 401/429.
type UpstreamClientError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamClientError) Error() string {
	return fmt.Sprintf("%s returned client error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// UpstreamServerError is a 5xx, surfaced as 502 after retry exhaustion.
type UpstreamServerError struct {
	Provider   string
	StatusCode int
	Cause      error
}

func (e *UpstreamServerError) Error() string {
	return fmt.Sprintf("%s returned server error %d: %v", e.Provider, e.StatusCode, e.Cause)
}
func (e *UpstreamServerError) Unwrap() error { return e.Cause }

// UpstreamTimeoutError surfaces as a 504.
type UpstreamTimeoutError struct {
	Provider string
	Cause    error
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out: %v", e.Provider, e.Cause)
}
func (e *UpstreamTimeoutError) Unwrap() error { return e.Cause }

// ClientDisconnectError is silent: it cancels the upstream fetch but is
// never written back to a client that has already gone away.
type ClientDisconnectError struct{}

func (e *ClientDisconnectError) Error() string { return "client disconnected" }

// StreamParseError is logged and the offending event dropped; the stream
// itself never aborts on one bad frame.
type StreamParseError struct {
	Message string
	Cause   error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("stream parse error: %s: %v", e.Message, e.Cause)
}
func (e *StreamParseError) Unwrap() error { return e.Cause }

// UnexpectedError is the 500 catch-all; Cause is only surfaced to the client
// in development mode.
type UnexpectedError struct {
	Cause error
}

func (e *UnexpectedError) Error() string { return fmt.Sprintf("unexpected error: %v", e.Cause) }
func (e *UnexpectedError) Unwrap() error { return e.Cause }

// StatusCode maps a gwerrors value to the HTTP status the gateway replies
// with.
func StatusCode(err error) int {
	switch {
	case errors.As(err, new(*ValidationError)):
		return 400
	case errors.As(err, new(*ProviderDisabledError)):
		return 400
	case errors.As(err, new(*ConfigError)):
		return 500
	case errors.As(err, new(*UpstreamAuthError)):
		return 401
	case errors.As(err, new(*UpstreamRateLimitError)):
		return 429
	case errors.As(err, new(*UpstreamClientError)):
		return 400
	case errors.As(err, new(*UpstreamServerError)):
		return 502
	case errors.As(err, new(*UpstreamTimeoutError)):
		return 504
	default:
		return 500
	}
}

// Kind returns a short machine-readable error-type tag for the structured
// error body's "error" field.
func Kind(err error) string {
	switch {
	case errors.As(err, new(*ValidationError)):
		return "ValidationError"
	case errors.As(err, new(*ProviderDisabledError)):
		return "ProviderDisabled"
	case errors.As(err, new(*ConfigError)):
		return "ConfigError"
	case errors.As(err, new(*UpstreamAuthError)):
		return "UpstreamAuthError"
	case errors.As(err, new(*UpstreamRateLimitError)):
		return "UpstreamRateLimit"
	case errors.As(err, new(*UpstreamClientError)):
		return "UpstreamClientError"
	case errors.As(err, new(*UpstreamServerError)):
		return "UpstreamServerError"
	case errors.As(err, new(*UpstreamTimeoutError)):
		return "UpstreamTimeout"
	default:
		return "Unexpected"
	}
}
