// Package tokens provides tiktoken-based token counting for prompt budgeting.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter provides token counting for prompt and draft text. All supported
// providers are approximated with the GPT-4 encoding, which is close enough
// for budget checks.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a token counter.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		// Character-based estimation (4 chars ≈ 1 token).
		return len(text) / 4
	}
	count, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Truncate trims text to at most maxTokens tokens, cutting from the end.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || c.Count(text) <= maxTokens {
		return text
	}
	if c == nil || c.codec == nil {
		limit := maxTokens * 4
		if limit < len(text) {
			return text[:limit]
		}
		return text
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return text
	}
	truncated, err := c.codec.Decode(ids[:maxTokens])
	if err != nil {
		return text
	}
	return truncated
}
