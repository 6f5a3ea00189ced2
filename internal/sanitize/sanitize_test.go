package sanitize

import (
	"encoding/json"
	"testing"

	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRejectsShellMetacharacters(t *testing.T) {
	s := New(Config{}, nil, nil)
	args := json.RawMessage(`{"cmd":"ls; rm -rf /"}`)
	_, err := s.Check("exec", args)
	require.Error(t, err)
	assert.Equal(t, orkit.CodeDangerousArgs, orkit.CodeOf(err))
}

func TestCheckAllowsCleanArgs(t *testing.T) {
	s := New(Config{}, nil, nil)
	args := json.RawMessage(`{"city":"London"}`)
	violations, err := s.Check("get_weather", args)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestBlockedValuesSubstring(t *testing.T) {
	s := New(Config{BlockedValues: []string{"forbidden-token"}}, nil, nil)
	args := json.RawMessage(`{"note":"contains forbidden-token here"}`)
	_, err := s.Check("note_tool", args)
	require.Error(t, err)
}

func TestAuditOnlyModeDoesNotBlock(t *testing.T) {
	s := New(Config{AuditOnlyMode: true}, nil, nil)
	args := json.RawMessage(`{"cmd":"rm -rf /tmp"}`)
	violations, err := s.Check("exec", args)
	require.NoError(t, err)
	assert.NotEmpty(t, violations)
}

func TestToolSpecificPattern(t *testing.T) {
	s := New(Config{ToolPatterns: map[string][]string{"note_tool": {`(?i)secret`}}}, nil, nil)
	args := json.RawMessage(`{"note":"this has a SECRET in it"}`)
	_, err := s.Check("note_tool", args)
	require.Error(t, err)

	// Same pattern shouldn't apply to a different tool.
	violations, err := s.Check("other_tool", args)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestNestedArgsTraversal(t *testing.T) {
	s := New(Config{}, nil, nil)
	args := json.RawMessage(`{"items":[{"path":"../../etc/passwd"}]}`)
	_, err := s.Check("fs_tool", args)
	require.Error(t, err)
}

func TestInvalidPatternSkippedNotFatal(t *testing.T) {
	s := New(Config{UserPatterns: []string{"("}}, nil, nil)
	args := json.RawMessage(`{"x":"y"}`)
	violations, err := s.Check("t", args)
	require.NoError(t, err)
	assert.Empty(t, violations)
}
