package invoker

import (
	"context"
	"fmt"
	"time"

	"briefgen/pkg/llm"
	"briefgen/pkg/llmerrors"
	"briefgen/pkg/logx"
	"briefgen/pkg/metrics"
	"briefgen/pkg/tokens"
)

type briefIDKey struct{}

// WithBriefID tags a context with the brief being generated so calls made
// under it get per-brief token accounting.
func WithBriefID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, briefIDKey{}, id)
}

// BriefIDFrom returns the brief ID carried by ctx, or "".
func BriefIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(briefIDKey{}).(string)
	return id
}

// Call is one unit of work performing a single external model call.
type Call func(ctx context.Context) (llm.CompletionResponse, error)

// Invoker executes model calls under a retry policy. Failures that survive the
// policy are replaced with the sanitized service-unavailable error; raw
// provider error text is logged here and goes no further.
type Invoker struct {
	policy  *Policy
	counter *tokens.Counter
	logger  *logx.Logger
}

// New creates an Invoker with the given policy. A nil policy uses DefaultConfig.
func New(policy *Policy) *Invoker {
	if policy == nil {
		policy = NewPolicy(DefaultConfig, nil)
	}
	logger := logx.NewLogger("invoker")
	counter, err := tokens.NewCounter()
	if err != nil {
		// Counter methods fall back to character estimation on a nil codec.
		logger.Warn("tokenizer unavailable, token metrics use character estimates: %v", err)
	}
	return &Invoker{
		policy:  policy,
		counter: counter,
		logger:  logger,
	}
}

// Do executes call with bounded retry. The op string identifies the caller in
// logs and metrics. Context cancellation aborts immediately, including during
// a backoff sleep.
func (inv *Invoker) Do(ctx context.Context, op string, call Call) (llm.CompletionResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= inv.policy.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := inv.policy.CalculateDelay(attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return llm.CompletionResponse{}, fmt.Errorf("%s: retry cancelled: %w", op, ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		start := time.Now()
		resp, err := call(ctx)
		metrics.ObserveModelCall(op, time.Since(start), err == nil)

		if err == nil {
			if attempt > 1 {
				inv.logger.Info("%s succeeded on attempt %d/%d", op, attempt, inv.policy.Config.MaxAttempts)
			}
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return llm.CompletionResponse{}, fmt.Errorf("%s: cancelled: %w", op, ctxErr)
		}

		lastErr = err
		classified := llmerrors.Classify(err)

		if !inv.policy.ShouldRetry(classified) {
			inv.logger.Error("%s failed with non-retryable %s error: %v", op, classified.Type, err)
			return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError()
		}

		inv.logger.Warn("%s attempt %d/%d failed (%s): %v", op, attempt, inv.policy.Config.MaxAttempts, classified.Type, err)
	}

	inv.logger.Error("%s exhausted %d attempts: %v", op, inv.policy.Config.MaxAttempts, lastErr)
	return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError()
}

// retryingClient routes a Client's calls through an Invoker.
type retryingClient struct {
	inv  *Invoker
	next llm.Client
	op   string
}

// WrapClient returns a Client whose Complete calls run under this invoker's
// retry policy. Every stage that talks to the model holds one of these, never
// a raw provider client.
func (inv *Invoker) WrapClient(op string, next llm.Client) llm.Client {
	return &retryingClient{inv: inv, next: next, op: op}
}

func (c *retryingClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	resp, err := c.inv.Do(ctx, c.op, func(ctx context.Context) (llm.CompletionResponse, error) {
		return c.next.Complete(ctx, in)
	})
	if err == nil {
		if briefID := BriefIDFrom(ctx); briefID != "" {
			var prompt int
			for i := range in.Messages {
				prompt += c.inv.counter.Count(in.Messages[i].Content)
			}
			metrics.AddTokens(briefID, prompt, c.inv.counter.Count(resp.Content))
		}
	}
	return resp, err
}

func (c *retryingClient) GetModelName() string {
	return c.next.GetModelName()
}
