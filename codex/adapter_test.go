package codex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrathagom/ai-discord-bot/stream"
)

func TestParseLine_ThreadStarted(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	events := a.ParseLine([]byte(`{"type":"thread.started","thread_id":"th_123"}`))
	require.Len(t, events, 1)

	started, ok := events[0].(stream.SessionStarted)
	require.True(t, ok)
	assert.Equal(t, "th_123", started.SessionID)
}

func TestParseLine_CommandExecutionLifecycle(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	events := a.ParseLine([]byte(`{"type":"item.started","item":{"id":"item_0","item_type":"command_execution","command":"go test ./..."}}`))
	require.Len(t, events, 1)
	invoked, ok := events[0].(stream.ToolInvoked)
	require.True(t, ok)
	assert.Equal(t, "item_0", invoked.ID)
	assert.Equal(t, "command_execution", invoked.Name)
	assert.Equal(t, "go test ./...", invoked.Input["command"])

	events = a.ParseLine([]byte(`{"type":"item.completed","item":{"id":"item_0","item_type":"command_execution","command":"go test ./...","aggregated_output":"ok\tpkg\t0.01s\nFAIL","exit_code":1}}`))
	require.Len(t, events, 1)
	result, ok := events[0].(stream.ToolResult)
	require.True(t, ok)
	assert.Equal(t, "item_0", result.InvocationID)
	assert.Equal(t, "ok\tpkg\t0.01s", result.Summary)
	assert.True(t, result.IsError)
}

func TestParseLine_AgentMessageAndReasoning(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	events := a.ParseLine([]byte(`{"type":"item.completed","item":{"id":"item_1","item_type":"agent_message","text":"All tests pass."}}`))
	require.Len(t, events, 1)
	text, ok := events[0].(stream.AssistantText)
	require.True(t, ok)
	assert.Equal(t, "All tests pass.", text.Text)

	events = a.ParseLine([]byte(`{"type":"item.completed","item":{"id":"item_2","item_type":"reasoning","text":"I should run the suite first."}}`))
	require.Len(t, events, 1)
	_, ok = events[0].(stream.AssistantText)
	assert.True(t, ok)
}

func TestParseLine_FileChangeRendersStandalone(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	events := a.ParseLine([]byte(`{"type":"item.completed","item":{"id":"item_3","item_type":"file_change","changes":[{"path":"main.go","kind":"update"},{"path":"main_test.go","kind":"add"}]}}`))
	require.Len(t, events, 1)

	result, ok := events[0].(stream.ToolResult)
	require.True(t, ok)
	assert.Equal(t, "item_3", result.InvocationID)
	assert.Contains(t, result.Summary, "changed 2 file(s)")
	assert.Contains(t, result.Summary, "main.go")
	assert.False(t, result.IsError)
}

func TestParseLine_TurnCompletedUsage(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	a.ParseLine([]byte(`{"type":"turn.started"}`))
	a.ParseLine([]byte(`{"type":"turn.started"}`))
	events := a.ParseLine([]byte(`{"type":"turn.completed","usage":{"input_tokens":1200,"cached_input_tokens":300,"output_tokens":450}}`))
	require.Len(t, events, 1)

	complete, ok := events[0].(stream.TurnCompleted)
	require.True(t, ok)
	assert.True(t, complete.Success, "absence of a failure record is success")
	assert.Nil(t, complete.CostUSD, "codex reports tokens, not dollars")
	assert.Equal(t, "1500 in / 450 out tokens", complete.Usage)
	assert.Equal(t, 2, complete.Turns)
}

func TestParseLine_TurnFailed(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	events := a.ParseLine([]byte(`{"type":"turn.failed","error":{"message":"model overloaded"}}`))
	require.Len(t, events, 1)

	complete := events[0].(stream.TurnCompleted)
	assert.False(t, complete.Success)
	assert.Equal(t, "model overloaded", complete.Result)
}

func TestParseLine_ErrorAndMalformed(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	events := a.ParseLine([]byte(`{"type":"error","message":"stream disconnected"}`))
	require.Len(t, events, 1)
	warning, ok := events[0].(stream.Warning)
	require.True(t, ok)
	assert.Equal(t, "stream disconnected", warning.Text)

	events = a.ParseLine([]byte(`not json at all`))
	require.Len(t, events, 1)
	_, ok = events[0].(stream.Malformed)
	assert.True(t, ok)
}

func TestBuildArgs_Fresh(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	args := a.BuildArgs(stream.SpawnSpec{
		Prompt:         "add a README",
		PermissionMode: stream.PermissionModeApprove,
	})

	joined := strings.Join(args, " ")
	assert.True(t, strings.HasPrefix(joined, "exec --json"))
	assert.Contains(t, joined, "--sandbox workspace-write")
	assert.Equal(t, "add a README", args[len(args)-1], "prompt is the final argument")
}

func TestBuildArgs_ResumeYolo(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	args := a.BuildArgs(stream.SpawnSpec{
		Prompt:         "keep going",
		SessionID:      "th_9",
		Model:          "gpt-5-codex",
		PermissionMode: stream.PermissionModeYolo,
	})

	joined := strings.Join(args, " ")
	assert.True(t, strings.HasPrefix(joined, "exec resume th_9"))
	assert.Contains(t, joined, "--model gpt-5-codex")
	assert.Contains(t, joined, "--dangerously-bypass-approvals-and-sandbox")
}

func TestFormatDecision_NotSupported(t *testing.T) {
	t.Parallel()
	a := &Adapter{}

	payload, ok := a.FormatDecision("item_0", stream.Decision{Behavior: "allow"})
	assert.False(t, ok)
	assert.Nil(t, payload)
}
