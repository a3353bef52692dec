package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefgen/pkg/llm"
)

func TestPrepareMessages_ExtractsSystemPrompt(t *testing.T) {
	system, out, err := prepareMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("be precise"),
		llm.NewUserMessage("question"),
	})
	require.NoError(t, err)
	assert.Equal(t, "be precise", system)
	require.Len(t, out, 1)
}

func TestPrepareMessages_MergesConsecutiveSameRole(t *testing.T) {
	_, out, err := prepareMessages([]llm.CompletionMessage{
		llm.NewUserMessage("part one"),
		llm.NewUserMessage("part two"),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestPrepareMessages_JoinsMultipleSystemMessages(t *testing.T) {
	system, _, err := prepareMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("rule one"),
		llm.NewSystemMessage("rule two"),
		llm.NewUserMessage("question"),
	})
	require.NoError(t, err)
	assert.Equal(t, "rule one\n\nrule two", system)
}

func TestPrepareMessages_Rejections(t *testing.T) {
	_, _, err := prepareMessages(nil)
	assert.Error(t, err)

	_, _, err = prepareMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("only system"),
	})
	assert.Error(t, err)

	_, _, err = prepareMessages([]llm.CompletionMessage{
		llm.NewUserMessage("question"),
		{Role: llm.RoleAssistant, Content: "answer"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last message must be user role")
}
