// Package util provides error types and context helpers shared across
// the proxy.
//
// # Error Conventions
//
// The project follows one error pattern everywhere:
//
//   - Sentinel errors (errors.New) for stable conditions that callers
//     check with errors.Is(). Example: ErrNoRoute.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., RoutingError, BackendError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context without
//     introducing a new type.
//
// Every error that can reach a client maps to exactly one HTTP status
// and one machine-readable code; see HTTPStatus and ErrorCode.
package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common sentinel errors.
var (
	ErrConnLimit      = errors.New("connection limit reached")
	ErrNoRoute        = errors.New("no route matched")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrPoolExhausted  = errors.New("no healthy instances in pool")
	ErrBackendTimeout = errors.New("backend timeout")
	ErrBackendFailed  = errors.New("backend request failed")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// ConnectionError reports a failure while accepting or tracking a
// client connection. These are logged and the connection is dropped;
// they never produce an HTTP response body.
type ConnectionError struct {
	RemoteAddr string
	Transport  string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection from %s (%s): %s: %v", e.RemoteAddr, e.Transport, e.Message, e.Cause)
	}
	return fmt.Sprintf("connection from %s (%s): %s", e.RemoteAddr, e.Transport, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConnectionError) Is(target error) bool {
	_, ok := target.(*ConnectionError)
	return ok || errors.Is(e.Cause, target)
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(remoteAddr, transport, message string, cause error) *ConnectionError {
	return &ConnectionError{RemoteAddr: remoteAddr, Transport: transport, Message: message, Cause: cause}
}

// RoutingError reports a request path that matched no route.
type RoutingError struct {
	Path string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route matched path %s", e.Path)
}

// Is checks if the error matches the target.
func (e *RoutingError) Is(target error) bool {
	if target == ErrNoRoute {
		return true
	}
	_, ok := target.(*RoutingError)
	return ok
}

// NewRoutingError creates a new RoutingError.
func NewRoutingError(path string) *RoutingError {
	return &RoutingError{Path: path}
}

// AuthError reports a missing or invalid bearer credential.
type AuthError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("auth failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *AuthError) Is(target error) bool {
	if target == ErrUnauthorized {
		return true
	}
	_, ok := target.(*AuthError)
	return ok || errors.Is(e.Cause, target)
}

// NewAuthError creates a new AuthError.
func NewAuthError(reason string, cause error) *AuthError {
	return &AuthError{Reason: reason, Cause: cause}
}

// RateLimitError reports an identity that has exhausted its token
// bucket. RetryAfter is the wait until the next whole token.
type RateLimitError struct {
	Key        string
	Limit      int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Key, e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(key string, limit int, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Key: key, Limit: limit, RetryAfter: retryAfter}
}

// UnavailableError reports a pool with zero healthy instances.
type UnavailableError struct {
	Pool string
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("pool %s has no healthy instances", e.Pool)
}

// Is checks if the error matches the target.
func (e *UnavailableError) Is(target error) bool {
	if target == ErrPoolExhausted {
		return true
	}
	_, ok := target.(*UnavailableError)
	return ok
}

// NewUnavailableError creates a new UnavailableError.
func NewUnavailableError(pool string) *UnavailableError {
	return &UnavailableError{Pool: pool}
}

// TimeoutError reports a backend that did not answer within the pool
// request timeout.
type TimeoutError struct {
	Pool     string
	Instance string
	Duration time.Duration
	Cause    error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend %s/%s timed out after %v", e.Pool, e.Instance, e.Duration)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrBackendTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok || errors.Is(e.Cause, target)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(pool, instance string, duration time.Duration, cause error) *TimeoutError {
	return &TimeoutError{Pool: pool, Instance: instance, Duration: duration, Cause: cause}
}

// BackendError reports a failed forward attempt against a specific
// instance. The proxy retries these against other instances until the
// retry budget runs out.
type BackendError struct {
	Pool     string
	Instance string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend %s/%s: %s: %v", e.Pool, e.Instance, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend %s/%s: %s", e.Pool, e.Instance, e.Message)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *BackendError) Is(target error) bool {
	if target == ErrBackendFailed {
		return true
	}
	_, ok := target.(*BackendError)
	return ok || errors.Is(e.Cause, target)
}

// NewBackendError creates a new BackendError.
func NewBackendError(pool, instance, message string, cause error) *BackendError {
	return &BackendError{Pool: pool, Instance: instance, Message: message, Cause: cause}
}

// CircuitOpenError reports a pool whose circuit breaker is open.
type CircuitOpenError struct {
	Pool  string
	State string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for pool %s is %s", e.Pool, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(pool, state string) *CircuitOpenError {
	return &CircuitOpenError{Pool: pool, State: state}
}

// ConfigError represents a configuration-related error. Config errors
// are fatal at startup; a reload that fails validation keeps the old
// snapshot and surfaces the error to the operator only.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable returns true if a forward attempt that produced this
// error may be retried against a different instance.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBackendFailed) || errors.Is(err, ErrBackendTimeout)
}

// HTTPStatus maps an error to the HTTP status code the client sees.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNoRoute):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrPoolExhausted), errors.Is(err, ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBackendTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrBackendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode maps an error to the machine-readable code carried in
// JSON error bodies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoRoute):
		return "no_route"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrPoolExhausted):
		return "pool_unavailable"
	case errors.Is(err, ErrBackendTimeout):
		return "backend_timeout"
	case errors.Is(err, ErrBackendFailed):
		return "bad_gateway"
	case errors.Is(err, ErrConnLimit):
		return "connection_limit"
	default:
		return "internal"
	}
}
