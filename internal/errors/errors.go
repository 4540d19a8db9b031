// Package errors provides the error taxonomy for the analysis pipeline.
//
// Only ValidationError and ExtractionError abort a run. AnalysisError and
// SynthesisError are absorbed at the stage that produced them.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout         = errors.New("operation timed out")
	ErrAuthFailure     = errors.New("authentication failed")
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrUnavailable     = errors.New("service unavailable")
	ErrInvalidInput    = errors.New("invalid input")
	ErrPolishDisabled  = errors.New("polish collaborator not configured")
	ErrEmptyCompletion = errors.New("completion returned no text")
)

// ValidationError reports an archive rejected before extraction.
type ValidationError struct {
	ArchivePath string
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid archive %s: %s", e.ArchivePath, e.Reason)
}

// ExtractionError reports a size-limit or confinement violation, or a corrupt
// member found while writing. Member is empty when the failure is not tied to
// a single entry.
type ExtractionError struct {
	Member string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := "extraction failed"
	if e.Member != "" {
		msg += fmt.Sprintf(" on member %q", e.Member)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// AnalysisError is a per-file decode or parse failure.
type AnalysisError struct {
	Path string
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis of %s failed: %v", e.Path, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// SynthesisError wraps a polish collaborator failure.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("summary polish failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// IsFatal reports whether err must terminate a pipeline run.
func IsFatal(err error) bool {
	var vErr *ValidationError
	var xErr *ExtractionError
	return errors.As(err, &vErr) || errors.As(err, &xErr)
}
