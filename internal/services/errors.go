// Package services defines the business logic for thread extraction and
// consensus analysis. This file centralizes service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Extraction errors.
var (
	// ErrInvalidURL is returned when the input is not a post URL on
	// twitter.com or x.com. No upstream call is made.
	ErrInvalidURL = errors.New("invalid thread url")

	// ErrNotFound indicates the upstream confirmed the post does not exist.
	ErrNotFound = errors.New("thread not found")

	// ErrQuotaExceeded is returned by the pre-flight check once the local
	// monthly ceiling is reached.
	ErrQuotaExceeded = errors.New("monthly api quota exceeded")

	// ErrRateLimited is returned when the upstream kept answering 429 until
	// the retries ran out.
	ErrRateLimited = errors.New("upstream rate limit exceeded")

	// ErrUnauthorized indicates the upstream rejected our credentials.
	ErrUnauthorized = errors.New("upstream rejected credentials")

	// ErrUpstreamUnavailable covers transport errors, timeouts and
	// unexpected statuses once retries are exhausted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Orchestration and analysis errors.
var (
	// ErrThreadTooShort is returned when a thread has fewer than two posts.
	ErrThreadTooShort = errors.New("thread needs at least 2 posts to analyze")

	// ErrAnalysisFailed is matched by every *AnalysisError.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrAnalysisNotFound indicates that a stored analysis does not exist.
	ErrAnalysisNotFound = errors.New("analysis not found")
)

// AnalysisError reports a failure of a mandatory pipeline step. Callers only
// learn that the analysis failed and why, not which step failed.
type AnalysisError struct {
	Reason string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %s", e.Reason)
}

// Unwrap lets errors.Is(err, ErrAnalysisFailed) match.
func (e *AnalysisError) Unwrap() error { return ErrAnalysisFailed }

// MalformedOutputError describes model output that could not be turned
// into a consensus result.
type MalformedOutputError struct {
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return "malformed model output: " + e.Reason
}
