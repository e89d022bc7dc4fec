package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrOfflineNoCache   = fmt.Errorf("cannot continue offline without cached profile")
	ErrInvalidCallback  = fmt.Errorf("invalid callback URL origin")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)

// AuthError reports rejected or insufficient credentials (HTTP 401/403).
type AuthError struct {
	StatusCode int
	Message    string
	Err        error
}

// NewAuthError creates an [AuthError], defaulting the status to 401.
func NewAuthError(status int, msg string) *AuthError {
	if status != http.StatusForbidden {
		status = http.StatusUnauthorized
	}
	return &AuthError{StatusCode: status, Message: msg}
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (status %d)", e.StatusCode)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is a generic API failure. StatusCode is 0 when no response was received.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = ErrAPIRequest.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

// RateLimitError is returned once rate-limit retries are exhausted.
type RateLimitError struct {
	BackoffMs int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %dms", e.BackoffMs)
}

// StatusCode extracts an HTTP status from any error in the chain, or 0.
func StatusCode(err error) int {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.StatusCode
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return http.StatusTooManyRequests
	}
	return 0
}

// IsAuthError reports whether err means the credentials were rejected.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	status := StatusCode(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// IsNonRetryableError reports whether retrying err is pointless.
func IsNonRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
		return true
	}
	return false
}
