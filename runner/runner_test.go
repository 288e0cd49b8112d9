package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrathagom/ai-discord-bot/approval"
	"github.com/wrathagom/ai-discord-bot/chat/chattest"
	"github.com/wrathagom/ai-discord-bot/claude"
	"github.com/wrathagom/ai-discord-bot/stream"
)

// scriptProvider runs a shell script instead of the real CLI while parsing
// its output with the real claude adapter.
type scriptProvider struct {
	claude.Adapter
	script string
}

func (p *scriptProvider) Command() string { return "/bin/sh" }

func (p *scriptProvider) BuildArgs(stream.SpawnSpec) []string {
	return []string{p.script}
}

func writeScript(t *testing.T, body string) *scriptProvider {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return &scriptProvider{script: path}
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]string
}

func (s *memStore) SetSessionID(channel, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]string)
	}
	s.sessions[channel] = sessionID
	return nil
}

func (s *memStore) get(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[channel]
}

func newTestRunner(t *testing.T, opts ...Option) (*Runner, *chattest.Recorder) {
	t.Helper()
	rec := chattest.NewRecorder()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := approval.NewManager(rec, log, approval.WithTimeouts(2*time.Second, 2*time.Second))
	opts = append([]Option{WithLogger(log)}, opts...)
	return NewRunner(rec, approval.NewBridge(mgr, log), opts...), rec
}

func waitDone(t *testing.T, ru *Run) {
	t.Helper()
	select {
	case <-ru.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("run did not finish")
	}
}

func joinAll(rec *chattest.Recorder) string {
	var parts []string
	for _, m := range rec.Messages() {
		parts = append(parts, m.Content...)
	}
	return strings.Join(parts, "\n")
}

func TestSpawn_CompletedRun(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `
echo '{"type":"system","subtype":"init","session_id":"sess-1","model":"test-model","cwd":"/tmp","tools":["Bash"]}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working on it"}]}}'
echo '{"type":"result","subtype":"success","is_error":false,"num_turns":2,"total_cost_usd":0.0312,"result":"done"}'
`)
	store := &memStore{}
	r, rec := newTestRunner(t, WithSessionStore(store))

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{
		Prompt:  "do the thing",
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	waitDone(t, ru)

	assert.Equal(t, OutcomeCompleted, ru.Outcome())
	assert.NoError(t, ru.Err())
	assert.False(t, r.Busy("chan-1"))
	assert.Equal(t, "sess-1", r.SessionID("chan-1"))
	assert.Equal(t, "sess-1", store.get("chan-1"))

	all := joinAll(rec)
	assert.Contains(t, all, "working on it")
	assert.Contains(t, all, "✅ Done")
	assert.Contains(t, all, "$0.0312")
	assert.Contains(t, all, "2 turns")
}

func TestSpawn_MissingWorkDir(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `echo unreachable`)
	r, _ := newTestRunner(t)

	missing := filepath.Join(t.TempDir(), "nope")
	_, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{
		WorkDir: missing,
	})

	var dirErr *DirectoryNotFoundError
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, missing, dirErr.Path)
	assert.False(t, r.Busy("chan-1"))
}

func TestSpawn_ExitWithoutResultFails(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"partial"}]}}'
echo 'credentials rejected' >&2
exit 3
`)
	r, rec := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)

	assert.Equal(t, OutcomeFailed, ru.Outcome())
	var perr *ProcessError
	require.ErrorAs(t, ru.Err(), &perr)
	assert.Equal(t, 3, perr.ExitCode)
	assert.Contains(t, perr.Stderr, "credentials rejected")
	assert.False(t, r.Busy("chan-1"))

	all := joinAll(rec)
	assert.Contains(t, all, "❌ Run failed")
	assert.Contains(t, all, "exit code 3")
	assert.Contains(t, all, "credentials rejected")
}

func TestSpawn_ExitZeroWithoutResultCompletes(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"all set"}]}}'
exit 0
`)
	r, rec := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)

	assert.Equal(t, OutcomeCompleted, ru.Outcome())
	assert.NoError(t, ru.Err())
	assert.Contains(t, joinAll(rec), "✅ Done")
}

func TestSpawn_BurstBeforeExitKeepsTerminalResult(t *testing.T) {
	t.Parallel()

	// A provider that floods stdout and exits immediately after the result
	// line leaves most of that output buffered in the pipe at exit time.
	// Every buffered line, the result included, must still be delivered.
	provider := writeScript(t, `
i=0
while [ $i -lt 400 ]; do
  printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"streamed chunk %04d with enough padding to fill the pipe buffer quickly"}]}}\n' $i
  i=$((i+1))
done
echo '{"type":"result","subtype":"success","is_error":false,"num_turns":1,"total_cost_usd":0.02,"result":"done"}'
exit 0
`)
	r, rec := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)

	assert.Equal(t, OutcomeCompleted, ru.Outcome())
	assert.NoError(t, ru.Err())

	all := joinAll(rec)
	assert.Contains(t, all, "streamed chunk 0399")
	assert.Contains(t, all, "✅ Done")
	assert.Contains(t, all, "$0.0200")
}

func TestSpawn_Timeout(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `sleep 30`)
	r, rec := newTestRunner(t, WithRunTimeout(200*time.Millisecond))

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)

	assert.Equal(t, OutcomeTimedOut, ru.Outcome())
	assert.False(t, r.Busy("chan-1"))
	assert.Contains(t, joinAll(rec), "timed out")
}

func TestSpawn_SupersedesRunningPredecessor(t *testing.T) {
	t.Parallel()

	slow := writeScript(t, `sleep 30`)
	fast := writeScript(t, `
echo '{"type":"result","is_error":false,"num_turns":1,"total_cost_usd":0.01,"result":"ok"}'
`)
	r, _ := newTestRunner(t)

	first, err := r.Spawn(context.Background(), "chan-1", slow, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	require.True(t, r.Busy("chan-1"))

	second, err := r.Spawn(context.Background(), "chan-1", fast, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)

	waitDone(t, first)
	waitDone(t, second)

	assert.Equal(t, OutcomeSuperseded, first.Outcome())
	assert.Equal(t, OutcomeCompleted, second.Outcome())
	assert.False(t, r.Busy("chan-1"))
}

func TestReserve_PlaceholderRejectsSecondReservation(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := reg.reserve("chan-1", &Run{})
	require.NoError(t, err)
	require.Equal(t, StateReserved, reg.State("chan-1"))

	_, err = reg.reserve("chan-1", &Run{})
	assert.ErrorIs(t, err, ErrChannelBusy)
}

func TestKill(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `sleep 30`)
	r, rec := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, r.Kill("chan-1"))
	waitDone(t, ru)

	assert.Equal(t, OutcomeStopped, ru.Outcome())
	assert.Contains(t, joinAll(rec), "🛑 Run stopped")
	assert.ErrorIs(t, r.Kill("chan-1"), ErrNotRunning)
}

func TestReset_DropsSession(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `
echo '{"type":"system","subtype":"init","session_id":"sess-9","model":"m","cwd":"/tmp"}'
echo '{"type":"result","is_error":false,"num_turns":1,"total_cost_usd":0.01,"result":"ok"}'
`)
	r, _ := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)
	require.Equal(t, "sess-9", r.SessionID("chan-1"))

	r.Reset("chan-1")
	assert.Empty(t, r.SessionID("chan-1"))
}

func TestToolLifecycle_UpdatesInPlace(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu-1","name":"Bash","input":{"command":"ls -la"}}]}}'
echo '{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu-1","content":"file1"}]}}'
echo '{"type":"result","is_error":false,"num_turns":1,"total_cost_usd":0.01,"result":"ok"}'
`)
	r, rec := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)

	msgs := rec.Messages()
	require.Len(t, msgs, 2) // tool status + terminal
	assert.Equal(t, "🔧 Bash: ls -la", msgs[0].Content[0])
	assert.Equal(t, "🔧 Bash: ls -la ✓ file1", rec.LastContent(0))
}

func TestToolResult_OrphanRendersStandalone(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `
echo '{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"unknown-id","content":"stray output"}]}}'
echo '{"type":"result","is_error":false,"num_turns":1,"total_cost_usd":0.01,"result":"ok"}'
`)
	r, rec := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)

	assert.Contains(t, joinAll(rec), "✓ stray output")
}

func TestApprovalFlow_DecisionReachesStdin(t *testing.T) {
	t.Parallel()

	captured := filepath.Join(t.TempDir(), "decision.json")
	provider := writeScript(t, fmt.Sprintf(`
echo '{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"make deploy"}}}'
read line
printf '%%s\n' "$line" > %q
echo '{"type":"result","is_error":false,"num_turns":1,"total_cost_usd":0.02,"result":"deployed"}'
`, captured))
	r, rec := newTestRunner(t)
	rec.Decisions <- stream.Decision{Behavior: "allow"}

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{
		WorkDir:        t.TempDir(),
		PermissionMode: stream.PermissionModeApprove,
	})
	require.NoError(t, err)
	waitDone(t, ru)

	assert.Equal(t, OutcomeCompleted, ru.Outcome())

	approvals := rec.Approvals()
	require.Len(t, approvals, 1)
	assert.Equal(t, "chan-1", approvals[0].Channel)
	assert.Equal(t, "Bash", approvals[0].ToolName)
	assert.Equal(t, "make deploy", approvals[0].Input["command"])

	data, err := os.ReadFile(captured)
	require.NoError(t, err)
	toolUseID, content, isError, err := claude.ParseToolResultPayload(data)
	require.NoError(t, err)
	assert.Equal(t, "req-1", toolUseID)
	assert.Empty(t, content)
	assert.False(t, isError)
}

func TestApprovalFlow_KilledRunUnblocksApproval(t *testing.T) {
	t.Parallel()

	provider := writeScript(t, `
echo '{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf build"}}}'
read line
sleep 30
`)
	r, rec := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", provider, stream.SpawnSpec{
		WorkDir:        t.TempDir(),
		PermissionMode: stream.PermissionModeApprove,
	})
	require.NoError(t, err)

	// Wait for the approval widget to appear, then kill the run with the
	// decision still pending. No decision is ever queued; the cancelled run
	// context must unblock the worker.
	require.Eventually(t, func() bool {
		return len(rec.Approvals()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, r.Kill("chan-1"))

	waitDone(t, ru)
	assert.Equal(t, OutcomeStopped, ru.Outcome())
	assert.False(t, r.Busy("chan-1"))
}

func TestSpawn_ResumesStoredSession(t *testing.T) {
	t.Parallel()

	first := writeScript(t, `
echo '{"type":"system","subtype":"init","session_id":"sess-7","model":"m","cwd":"/tmp"}'
echo '{"type":"result","is_error":false,"num_turns":1,"total_cost_usd":0.01,"result":"ok"}'
`)
	r, _ := newTestRunner(t)

	ru, err := r.Spawn(context.Background(), "chan-1", first, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru)
	require.Equal(t, "sess-7", r.SessionID("chan-1"))

	// The next spawn passes the stored continuation id through BuildArgs.
	var gotSpec stream.SpawnSpec
	second := &specCaptureProvider{scriptProvider: writeScript(t, `
echo '{"type":"result","is_error":false,"num_turns":1,"total_cost_usd":0.01,"result":"ok"}'
`), captured: &gotSpec}

	ru2, err := r.Spawn(context.Background(), "chan-1", second, stream.SpawnSpec{WorkDir: t.TempDir()})
	require.NoError(t, err)
	waitDone(t, ru2)
	assert.Equal(t, "sess-7", gotSpec.SessionID)
}

type specCaptureProvider struct {
	*scriptProvider
	captured *stream.SpawnSpec
}

func (p *specCaptureProvider) BuildArgs(spec stream.SpawnSpec) []string {
	*p.captured = spec
	return p.scriptProvider.BuildArgs(spec)
}
