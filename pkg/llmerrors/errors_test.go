package llmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"rate limit by status", errors.New("429 Too Many Requests"), ErrorTypeRateLimit},
		{"rate limit by text", errors.New("quota exceeded for model"), ErrorTypeRateLimit},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ErrorTypeTransient},
		{"timeout", errors.New("request timeout"), ErrorTypeTransient},
		{"server error", errors.New("HTTP 503 from upstream"), ErrorTypeTransient},
		{"eof", errors.New("unexpected EOF"), ErrorTypeTransient},
		{"unauthorized", errors.New("401 Unauthorized"), ErrorTypeAuth},
		{"bad key", errors.New("invalid api key provided"), ErrorTypeAuth},
		{"forbidden", errors.New("Forbidden"), ErrorTypeAuth},
		{"unclassified", errors.New("something odd happened"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestClassify_NilAndPassthrough(t *testing.T) {
	assert.Nil(t, Classify(nil))

	original := NewError(ErrorTypeRateLimit, "slow down")
	wrapped := fmt.Errorf("call failed: %w", original)
	assert.Same(t, original, Classify(wrapped))
}

func TestIsRetryable_Blocklist(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection refused")))
	assert.True(t, IsRetryable(errors.New("429")))
	// Unknown errors get the benefit of the backoff loop.
	assert.True(t, IsRetryable(errors.New("weird new failure mode")))

	assert.False(t, IsRetryable(errors.New("401 unauthorized")))
	assert.False(t, IsRetryable(NewServiceUnavailableError()))
	assert.False(t, IsRetryable(nil))
}

func TestServiceUnavailable_RetainsNoCause(t *testing.T) {
	err := NewServiceUnavailableError()
	assert.Nil(t, err.Unwrap())
	assert.Contains(t, err.Error(), SanitizedUnavailableMessage)
	assert.NotContains(t, err.Error(), "api key")
	assert.True(t, IsServiceUnavailable(err))
	assert.True(t, IsServiceUnavailable(fmt.Errorf("stage: %w", err)))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeAuth, TypeOf(NewError(ErrorTypeAuth, "nope")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}
