package messages

import (
	"testing"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareAssemblesSystemHistoryPrompt(t *testing.T) {
	history := []orkit.HistoryEntry{
		{Message: orkit.NewTextMessage(orkit.RoleUser, "hi")},
		{Message: orkit.NewTextMessage(orkit.RoleAssistant, "hello")},
	}
	out, err := Prepare(Input{SystemPrompt: "be nice", Prompt: "how are you", History: history}, nil)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, orkit.RoleSystem, out[0].Role)
	assert.Equal(t, "be nice", out[0].Text())
	assert.Equal(t, orkit.RoleUser, out[1].Role)
	assert.Equal(t, orkit.RoleAssistant, out[2].Role)
	assert.Equal(t, orkit.RoleUser, out[3].Role)
	assert.Equal(t, "how are you", out[3].Text())
}

func TestPrepareRejectsWhenNothingProvided(t *testing.T) {
	_, err := Prepare(Input{}, nil)
	require.Error(t, err)
	assert.Equal(t, orkit.CodeConfigError, orkit.CodeOf(err))
}

func TestPrepareCustomMessagesVerbatimPrependsSystemWhenAbsent(t *testing.T) {
	custom := []orkit.Message{orkit.NewTextMessage(orkit.RoleUser, "q")}
	out, err := Prepare(Input{CustomMessages: custom, SystemPrompt: "sys"}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, orkit.RoleSystem, out[0].Role)
	assert.Equal(t, orkit.RoleUser, out[1].Role)
}

func TestPrepareCustomMessagesKeepsExistingSystem(t *testing.T) {
	custom := []orkit.Message{
		orkit.NewTextMessage(orkit.RoleSystem, "existing"),
		orkit.NewTextMessage(orkit.RoleUser, "q"),
	}
	out, err := Prepare(Input{CustomMessages: custom, SystemPrompt: "ignored"}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "existing", out[0].Text())
}

func TestFilterHistoryDropsExtraFields(t *testing.T) {
	entry := orkit.HistoryEntry{
		Message: orkit.Message{Role: orkit.RoleTool, ToolCallID: "call_1", Content: nil},
	}
	out, err := Prepare(Input{History: []orkit.HistoryEntry{entry}}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, orkit.RoleTool, out[0].Role)
	assert.Equal(t, "call_1", out[0].ToolCallID)
	assert.Nil(t, out[0].Content)
}

func TestPrepareSystemPromptOnlyIsValid(t *testing.T) {
	out, err := Prepare(Input{SystemPrompt: "sys"}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
