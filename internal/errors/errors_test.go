package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("openai", 403, "forbidden")
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestAPIError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{Service: "ollama", StatusCode: 500, Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("openai", 429, "rate limit")))
	assert.True(t, IsRetryable(NewAPIError("openai", 502, "bad gateway")))
	assert.True(t, IsRetryable(NewAPIError("anthropic", 503, "unavailable")))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(fmt.Errorf("polish: %w", ErrUnavailable)))

	assert.False(t, IsRetryable(NewAPIError("openai", 401, "unauth")))
	assert.False(t, IsRetryable(NewAPIError("openai", 404, "not found")))
	assert.False(t, IsRetryable(ErrAuthFailure))
	assert.False(t, IsRetryable(ErrPolishDisabled))
}

func TestExtractionError_NamesMember(t *testing.T) {
	err := &ExtractionError{Member: "../../etc/passed", Reason: "illegal member path"}
	assert.Contains(t, err.Error(), `"../../etc/passed"`)
	assert.Contains(t, err.Error(), "illegal member path")

	inner := errors.New("flate: corrupt input")
	wrapped := &ExtractionError{Member: "a.txt", Reason: "write failed", Err: inner}
	assert.ErrorIs(t, wrapped, inner)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&ValidationError{ArchivePath: "x.zip", Reason: "Not a ZIP archive"}))
	assert.True(t, IsFatal(fmt.Errorf("run: %w", &ExtractionError{Reason: "boom"})))

	assert.False(t, IsFatal(&AnalysisError{Path: "a.py", Err: errors.New("bad")}))
	assert.False(t, IsFatal(&SynthesisError{Err: ErrTimeout}))
	assert.False(t, IsFatal(nil))
}

func TestSynthesisError_Unwrap(t *testing.T) {
	err := &SynthesisError{Err: ErrPolishDisabled}
	assert.ErrorIs(t, err, ErrPolishDisabled)
	assert.Contains(t, err.Error(), "polish")
}
