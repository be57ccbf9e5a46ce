// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). Clients branch on these
// codes; the accompanying message is for humans.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (bad_request, not_found, internal_error) mirror HTTP status
//     semantics.
//   - Domain codes name the service error they come from, so a client can tell
//     an upstream quota problem from a malformed model answer even though both
//     are reported as 500.
//
// Example response:
//
//	{
//	  "success": false,
//	  "error": "Invalid X/Twitter thread URL",
//	  "code": "invalid_url",
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/x-consensus-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidURL          = "invalid_url"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeQuotaExceeded       = "quota_exceeded"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeAnalysisFailed      = "analysis_failed"
	ErrCodeThreadTooShort      = "thread_too_short"
)

// classify maps a service error to an HTTP status, a stable code and a
// client-facing message.
func classify(err error) (status int, code, msg string) {
	var ae *services.AnalysisError
	switch {
	case errors.Is(err, services.ErrInvalidURL):
		return http.StatusBadRequest, ErrCodeInvalidURL, "Invalid X/Twitter thread URL"
	case errors.Is(err, services.ErrThreadTooShort):
		return http.StatusBadRequest, ErrCodeThreadTooShort, "Thread too short for meaningful analysis"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "Thread not found or is private"
	case errors.Is(err, services.ErrAnalysisNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "analysis not found"
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests, ErrCodeRateLimited, "Rate limit exceeded, please try again later"
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid API credentials"
	case errors.Is(err, services.ErrQuotaExceeded):
		return http.StatusInternalServerError, ErrCodeQuotaExceeded, "Monthly API quota reached, please try again next month"
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return http.StatusInternalServerError, ErrCodeUpstreamUnavailable, "Thread service temporarily unavailable"
	case errors.As(err, &ae):
		return http.StatusInternalServerError, ErrCodeAnalysisFailed, "Analysis failed: " + ae.Reason
	}
	return http.StatusInternalServerError, ErrCodeInternal, "internal error"
}
