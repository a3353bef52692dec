package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompletionRequest_Defaults(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("hello")})
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, TemperatureDefault, float64(req.Temperature), 1e-6)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
}

func TestMessageConstructors(t *testing.T) {
	sys := NewSystemMessage("be brief")
	assert.Equal(t, RoleSystem, sys.Role)
	assert.Equal(t, "be brief", sys.Content)

	user := NewUserMessage("question")
	assert.Equal(t, RoleUser, user.Role)
}

func TestMockClient_ReplaysScript(t *testing.T) {
	mock := NewMockClient([]CompletionResponse{
		{Content: "first"},
		{Content: "second"},
	}, nil)

	ctx := context.Background()
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")})

	resp, err := mock.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// The script's last response repeats once exhausted.
	resp, err = mock.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)
	assert.Equal(t, 3, mock.CallCount())
}

func TestMockClient_Errors(t *testing.T) {
	mock := NewMockClient(nil, errors.New("scripted failure"))
	_, err := mock.Complete(context.Background(), NewCompletionRequest(
		[]CompletionMessage{NewUserMessage("hi")}))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMockClient(nil, nil).Complete(ctx, NewCompletionRequest(
		[]CompletionMessage{NewUserMessage("hi")}))
	assert.ErrorIs(t, err, context.Canceled)
}
