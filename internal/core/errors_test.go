package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormatting(t *testing.T) {
	err := ErrProvider("RATE_LIMITED", "too many requests")
	assert.Contains(t, err.Error(), "provider")
	assert.Contains(t, err.Error(), "RATE_LIMITED")
	assert.Contains(t, err.Error(), "too many requests")

	cause := errors.New("connection reset")
	wrapped := ErrNetwork("provider unreachable").WithCause(cause)
	assert.Contains(t, wrapped.Error(), "connection reset")
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestDomainErrorIs(t *testing.T) {
	err := ErrAuth("bad key")
	assert.ErrorIs(t, fmt.Errorf("calling provider: %w", err), ErrAuth("other message"))
	assert.NotErrorIs(t, err, ErrNetwork("x"))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(ErrProvider("", "x")))
	assert.True(t, IsRetryable(ErrNetwork("x")))
	assert.True(t, IsRetryable(ErrParse("x")))
	assert.True(t, IsRetryable(ErrTimeout("x")))

	assert.False(t, IsRetryable(ErrAuth("x")))
	assert.False(t, IsRetryable(ErrInput("CODE", "x")))
	assert.False(t, IsRetryable(ErrProviderExhausted(3, nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetCategory(t *testing.T) {
	assert.Equal(t, ErrCatAuth, GetCategory(ErrAuth("x")))
	assert.Equal(t, ErrCatValidation, GetCategory(ErrInput("CODE", "x")))
	assert.Equal(t, ErrCatInternal, GetCategory(errors.New("plain")))

	// Wrapped domain errors still classify.
	wrapped := fmt.Errorf("outer: %w", ErrTimeout("slow"))
	assert.Equal(t, ErrCatTimeout, GetCategory(wrapped))
	assert.True(t, IsCategory(wrapped, ErrCatTimeout))
}

func TestProviderExhaustedCarriesLastError(t *testing.T) {
	last := ErrNetwork("dns failure")
	err := ErrProviderExhausted(4, last)
	require.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "all 4 models exhausted")
}

func TestErrProviderDefaultCode(t *testing.T) {
	err := ErrProvider("", "upstream 500")
	assert.Equal(t, "PROVIDER_ERROR", err.Code)
}
