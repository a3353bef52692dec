// Package ollama provides a local-runtime implementation of llm.Client via
// the Ollama API.
package ollama

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"briefgen/pkg/llm"
	"briefgen/pkg/llmerrors"
)

// DefaultHost is the standard local Ollama server address.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
}

// New creates an Ollama client. hostURL may be empty for the default local server.
func New(hostURL, model string) llm.Client {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse(DefaultHost)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if response.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Ollama")
	}

	stopReason := "end_turn"
	if response.DoneReason != "" {
		stopReason = response.DoneReason
	}
	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason,
	}, nil
}

// GetModelName implements llm.Client.
func (c *Client) GetModelName() string {
	return c.model
}
