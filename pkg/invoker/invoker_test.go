package invoker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefgen/pkg/llm"
	"briefgen/pkg/llmerrors"
)

// fastConfig keeps retry sleeps negligible in tests.
//
//nolint:gochecknoglobals // Test fixture
var fastConfig = Config{
	MaxAttempts:    3,
	InitialDelay:   time.Millisecond,
	MaxDelay:       10 * time.Millisecond,
	BackoffFactor:  2.0,
	JitterFraction: 0,
}

// asCall adapts a MockClient's Complete method to the Invoker's Call signature.
func asCall(m *llm.MockClient) Call {
	return func(ctx context.Context) (llm.CompletionResponse, error) {
		return m.Complete(ctx, llm.CompletionRequest{})
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	inv := New(NewPolicy(fastConfig, nil))
	mock := llm.NewMockClient([]llm.CompletionResponse{{Content: "ok"}}, nil)

	resp, err := inv.Do(context.Background(), "test-op", asCall(mock))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, mock.CallCount())
}

func TestDo_RecoversFromTransientFailures(t *testing.T) {
	// Two connection resets, then success: the canonical backoff scenario.
	var calls atomic.Int32
	mock := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
			if calls.Add(1) <= 2 {
				return llm.CompletionResponse{}, errors.New("connection reset by peer")
			}
			return llm.CompletionResponse{Content: "recovered"}, nil
		},
	}

	inv := New(NewPolicy(fastConfig, nil))
	resp, err := inv.Do(context.Background(), "test-op", asCall(mock))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ExhaustsBudgetAndSanitizes(t *testing.T) {
	mock := llm.NewMockClient(nil, errors.New("503 from upstream at 10.0.0.5 key=sk-secret"))

	inv := New(NewPolicy(fastConfig, nil))
	_, err := inv.Do(context.Background(), "test-op", asCall(mock))
	require.Error(t, err)
	// Exactly MaxAttempts calls, never more.
	assert.Equal(t, fastConfig.MaxAttempts, mock.CallCount())
	// The provider's error text never crosses the invoker boundary.
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, "model error (service_unavailable): "+llmerrors.SanitizedUnavailableMessage, err.Error())
	assert.NotContains(t, err.Error(), "sk-secret")
}

func TestDo_AuthErrorNeverRetried(t *testing.T) {
	mock := llm.NewMockClient(nil, errors.New("401 unauthorized: invalid api key"))

	inv := New(NewPolicy(fastConfig, nil))
	_, err := inv.Do(context.Background(), "test-op", asCall(mock))
	require.Error(t, err)
	assert.Equal(t, 1, mock.CallCount())
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.NotContains(t, err.Error(), "api key")
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig
	cfg.InitialDelay = 10 * time.Second
	cfg.MaxDelay = 10 * time.Second

	mock := llm.NewMockClient(nil, errors.New("connection refused"))
	inv := New(NewPolicy(cfg, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := inv.Do(ctx, "test-op", asCall(mock))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// Aborted inside the sleep, not after it.
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, mock.CallCount())
}

func TestWrapClient(t *testing.T) {
	var calls atomic.Int32
	mock := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
			if calls.Add(1) == 1 {
				return llm.CompletionResponse{}, errors.New("timeout")
			}
			return llm.CompletionResponse{Content: "wrapped"}, nil
		},
	}

	inv := New(NewPolicy(fastConfig, nil))
	client := inv.WrapClient("stage", mock)

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest(
		[]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "wrapped", resp.Content)
	assert.Equal(t, "mock-model", client.GetModelName())
	assert.Equal(t, int32(2), calls.Load())
}

func TestBriefIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, BriefIDFrom(ctx))
	assert.Equal(t, "inv-42", BriefIDFrom(WithBriefID(ctx, "inv-42")))
}

func TestCalculateDelay_ExponentialGrowth(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:    5,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0,
	}, nil)

	assert.Equal(t, time.Duration(0), policy.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, policy.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, policy.CalculateDelay(3))
	assert.Equal(t, 400*time.Millisecond, policy.CalculateDelay(4))
}

func TestCalculateDelay_CappedAtMaxDelay(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:    10,
		InitialDelay:   time.Second,
		MaxDelay:       2 * time.Second,
		BackoffFactor:  10.0,
		JitterFraction: 0,
	}, nil)

	assert.Equal(t, 2*time.Second, policy.CalculateDelay(4))
}

func TestCalculateDelay_JitterBounds(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.2,
	}, nil)

	for i := 0; i < 100; i++ {
		d := policy.CalculateDelay(2)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestNewPolicy_DefaultClassifier(t *testing.T) {
	policy := NewPolicy(DefaultConfig, nil)
	assert.True(t, policy.ShouldRetry(errors.New("connection reset")))
	assert.False(t, policy.ShouldRetry(errors.New("403 forbidden")))
}
