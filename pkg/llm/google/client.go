// Package google provides the Google Gemini implementation of llm.Client.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"briefgen/pkg/llm"
	"briefgen/pkg/llmerrors"
)

// Client wraps the Google GenAI client to implement llm.Client.
type Client struct {
	client  *genai.Client
	initErr error
	model   string
}

// New creates a Gemini client (raw client, retry applied by the invoker).
// The underlying client is built eagerly so one Client is safe to share
// across concurrently scoring personas; a construction failure surfaces on
// the first Complete.
func New(apiKey, model string) llm.Client {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	return &Client{
		client:  client,
		initErr: err,
		model:   model,
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.initErr != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(fmt.Errorf("failed to create Gemini client: %w", c.initErr))
	}

	var contents []*genai.Content
	var systemInstruction string
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemInstruction += msg.Content
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: int32(in.MaxTokens), //nolint:gosec // MaxTokens validated at higher layer
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Gemini API")
	}

	return llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: "end_turn",
	}, nil
}

// GetModelName implements llm.Client.
func (c *Client) GetModelName() string {
	return c.model
}
