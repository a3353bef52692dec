// Package anthropic provides the Anthropic Claude implementation of llm.Client.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"briefgen/pkg/llm"
	"briefgen/pkg/llmerrors"
)

// Client wraps the Anthropic API client to implement llm.Client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude client (raw client, retry applied by the invoker).
func New(apiKey, model string) llm.Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// prepareMessages extracts system messages into the system parameter and
// merges consecutive same-role messages, since the Anthropic API requires
// strict user/assistant alternation.
func prepareMessages(messages []llm.CompletionMessage) (systemPrompt string, out []anthropic.MessageParam, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var merged []llm.CompletionMessage
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		if len(merged) > 0 && merged[len(merged)-1].Role == msg.Role {
			merged[len(merged)-1].Content += "\n\n" + msg.Content
			continue
		}
		merged = append(merged, *msg)
	}
	if len(merged) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}

	out = make([]anthropic.MessageParam, 0, len(merged))
	for i := range merged {
		out = append(out, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(merged[i].Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(merged[i].Content)},
		})
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := prepareMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeUnknown, fmt.Sprintf("message preparation error: %v", err))
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	return llm.CompletionResponse{
		Content:    text,
		StopReason: string(resp.StopReason),
	}, nil
}

// GetModelName implements llm.Client.
func (c *Client) GetModelName() string {
	return string(c.model)
}
