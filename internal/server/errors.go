package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// Error codes carried in [services.ErrorDetail].
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_SUPPORTED"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:       CodeBadRequest,
	http.StatusUnauthorized:     CodeUnauthorized,
	http.StatusForbidden:        CodeForbidden,
	http.StatusNotFound:         CodeNotFound,
	http.StatusMethodNotAllowed: CodeMethodNotAllowed,
	http.StatusTooManyRequests:  CodeTooManyRequests,
}

func codeFor(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return CodeInternal
}

// MapError converts an error from the Discogs layer into a response status and error detail.
//
// operation names the failed call, e.g. "get identity", and only appears in messages for
// errors that carry no status of their own.
func MapError(err error, operation string) (int, services.ErrorDetail) {
	var rlErr *shared.RateLimitError
	if errors.As(err, &rlErr) {
		seconds := int64(math.Ceil(float64(rlErr.BackoffMs) / 1000))
		return http.StatusTooManyRequests, services.ErrorDetail{
			Code:      CodeTooManyRequests,
			Message:   fmt.Sprintf("Rate limit exceeded. Backoff for %ds", seconds),
			BackoffMs: rlErr.BackoffMs,
		}
	}

	var authErr *shared.AuthError
	if errors.As(err, &authErr) {
		status := http.StatusUnauthorized
		if authErr.StatusCode == http.StatusForbidden {
			status = http.StatusForbidden
		}
		return status, services.ErrorDetail{Code: codeFor(status), Message: authErr.Error()}
	}

	var apiErr *shared.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if _, ok := statusCodes[status]; !ok || status == http.StatusMethodNotAllowed {
			status = http.StatusInternalServerError
		}
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return status, services.ErrorDetail{Code: codeFor(status), Message: msg}
	}

	if errors.Is(err, shared.ErrInvalidInput) || errors.Is(err, shared.ErrInvalidCallback) {
		return http.StatusBadRequest, services.ErrorDetail{Code: CodeBadRequest, Message: err.Error()}
	}

	return http.StatusInternalServerError, services.ErrorDetail{
		Code:    CodeInternal,
		Message: fmt.Sprintf("Failed to %s: %v", operation, err),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, operation string) {
	status, detail := MapError(err, operation)
	writeJSON(w, status, services.ErrorBody{Error: detail})
}

func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, services.ErrorBody{Error: services.ErrorDetail{Code: codeFor(status), Message: msg}})
}
