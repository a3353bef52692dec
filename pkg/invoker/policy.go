// Package invoker wraps every external model call with bounded retry,
// exponential backoff with jitter, and error classification. Nothing above
// this package implements its own retry loop.
package invoker

import (
	"math"
	"math/rand"
	"time"

	"briefgen/pkg/llmerrors"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts    int           `json:"max_attempts"`    // Maximum number of attempts (including initial)
	InitialDelay   time.Duration `json:"initial_delay"`   // Delay before the first retry
	MaxDelay       time.Duration `json:"max_delay"`       // Maximum delay between retries
	BackoffFactor  float64       `json:"backoff_factor"`  // Multiplier for exponential backoff
	JitterFraction float64       `json:"jitter_fraction"` // Symmetric jitter, e.g. 0.2 for ±20%
}

// DefaultConfig provides the default retry behavior: 3 attempts, 1s initial
// delay, doubling, ±20% jitter.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:    3,
	InitialDelay:   1000 * time.Millisecond,
	MaxDelay:       30 * time.Second,
	BackoffFactor:  2.0,
	JitterFraction: 0.2,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy with the given configuration and
// classifier. A nil classifier falls back to llmerrors.IsRetryable.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = llmerrors.IsRetryable
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay computes the backoff delay before the given attempt number.
// Attempt 1 is the initial call and has no delay.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))

	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.JitterFraction > 0 && delay > 0 {
		// Uniform in [-fraction, +fraction]. Jitter affects timing only,
		// never which attempt succeeds.
		jitter := (rand.Float64()*2 - 1) * p.Config.JitterFraction //nolint:gosec // Jitter needs no crypto randomness
		delay += time.Duration(float64(delay) * jitter)
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
