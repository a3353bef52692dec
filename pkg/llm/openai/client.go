// Package openai provides the OpenAI implementation of llm.Client using the
// official Go SDK.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"briefgen/pkg/llm"
	"briefgen/pkg/llmerrors"
)

// Client wraps the official OpenAI client to implement llm.Client.
type Client struct {
	client openai.Client
	model  string
}

// New creates an OpenAI client (raw client, retry applied by the invoker).
func New(apiKey, model string) llm.Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(in.MaxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from OpenAI API")
	}

	choice := resp.Choices[0]
	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}, nil
}

// GetModelName implements llm.Client.
func (c *Client) GetModelName() string {
	return c.model
}
