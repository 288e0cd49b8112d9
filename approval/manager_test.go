package approval

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrathagom/ai-discord-bot/chat"
	"github.com/wrathagom/ai-discord-bot/chat/chattest"
	"github.com/wrathagom/ai-discord-bot/claude"
	"github.com/wrathagom/ai-discord-bot/codex"
	"github.com/wrathagom/ai-discord-bot/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestApproval_HumanAllows(t *testing.T) {
	t.Parallel()
	recorder := chattest.NewRecorder()
	recorder.Decisions <- stream.Decision{Behavior: "allow"}
	m := NewManager(recorder, testLogger())

	d := m.RequestApproval(context.Background(), Request{
		Channel:  "chan-1",
		ToolName: "Bash",
		Input:    map[string]interface{}{"command": "ls"},
	})

	assert.True(t, d.Allowed())
	calls := recorder.Approvals()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bash", calls[0].ToolName)
	assert.Equal(t, 0, m.PendingCount())
}

func TestRequestApproval_TimeoutFailsClosed(t *testing.T) {
	t.Parallel()
	recorder := chattest.NewRecorder() // no scripted decision: widget blocks
	m := NewManager(recorder, testLogger(), WithTimeouts(20*time.Millisecond, time.Minute))

	d := m.RequestApproval(context.Background(), Request{Channel: "chan-1", ToolName: "Edit"})

	assert.False(t, d.Allowed())
	assert.Equal(t, "timed out", d.Message)
	assert.Equal(t, 0, m.PendingCount())
}

func TestRequestApproval_PlanUsesLongerTimeout(t *testing.T) {
	t.Parallel()
	recorder := chattest.NewRecorder()
	m := NewManager(recorder, testLogger(), WithTimeouts(10*time.Millisecond, 500*time.Millisecond))

	go func() {
		time.Sleep(50 * time.Millisecond)
		recorder.Decisions <- stream.Decision{Behavior: "allow"}
	}()

	d := m.RequestApproval(context.Background(), Request{Channel: "chan-1", ToolName: "ExitPlanMode", Plan: true})
	assert.True(t, d.Allowed(), "plan approval should outlive the simple-approval timeout")
}

func TestRequestApproval_ExternalDecisionWins(t *testing.T) {
	t.Parallel()
	recorder := chattest.NewRecorder() // widget never answers
	m := NewManager(recorder, testLogger(), WithTimeouts(time.Minute, time.Minute))

	done := make(chan stream.Decision, 1)
	go func() {
		done <- m.RequestApproval(context.Background(), Request{
			Channel:       "chan-1",
			ToolName:      "Bash",
			CorrelationID: "corr-1",
		})
	}()

	require.Eventually(t, func() bool { return m.PendingCount() == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.HandleExternalDecision("corr-1", stream.Decision{Behavior: "deny", Message: "not on prod"}))

	d := <-done
	assert.False(t, d.Allowed())
	assert.Equal(t, "not on prod", d.Message)
}

func TestHandleExternalDecision_DuplicateIsNoOp(t *testing.T) {
	t.Parallel()
	recorder := chattest.NewRecorder()
	m := NewManager(recorder, testLogger(), WithTimeouts(time.Minute, time.Minute))

	done := make(chan stream.Decision, 1)
	go func() {
		done <- m.RequestApproval(context.Background(), Request{Channel: "c", ToolName: "Bash", CorrelationID: "corr-2"})
	}()
	require.Eventually(t, func() bool { return m.PendingCount() == 1 }, time.Second, time.Millisecond)

	assert.True(t, m.HandleExternalDecision("corr-2", stream.Decision{Behavior: "allow"}))
	assert.False(t, m.HandleExternalDecision("corr-2", stream.Decision{Behavior: "deny", Message: "late"}))

	d := <-done
	assert.True(t, d.Allowed(), "first decision wins, second is ignored")
}

func TestHandleExternalDecision_UnknownIDIgnored(t *testing.T) {
	t.Parallel()
	m := NewManager(chattest.NewRecorder(), testLogger())
	assert.False(t, m.HandleExternalDecision("never-seen", stream.Decision{Behavior: "allow"}))
}

func TestRequestApproval_ResolvesExactlyOnceUnderRace(t *testing.T) {
	t.Parallel()
	recorder := chattest.NewRecorder()
	// Timeout and human decision land at nearly the same moment.
	m := NewManager(recorder, testLogger(), WithTimeouts(5*time.Millisecond, time.Minute))

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			select {
			case recorder.Decisions <- stream.Decision{Behavior: "allow"}:
			default:
			}
		}()

		d := m.RequestApproval(context.Background(), Request{Channel: "c", ToolName: "Bash"})
		// Either outcome is valid; what matters is a single well-formed result.
		assert.Contains(t, []string{"allow", "deny"}, d.Behavior)
		wg.Wait()

		// Drain any unconsumed scripted decision before the next round.
		select {
		case <-recorder.Decisions:
		default:
		}
		require.Equal(t, 0, m.PendingCount())
	}
}

func TestAskQuestions_AnswerAndTimeout(t *testing.T) {
	t.Parallel()
	recorder := chattest.NewRecorder()
	recorder.Answers <- "Option B"
	m := NewManager(recorder, testLogger(), WithTimeouts(30*time.Millisecond, time.Minute))

	answers := m.AskQuestions(context.Background(), "chan-1", []chat.Question{
		{Question: "Which approach?", Options: []chat.Option{{Label: "Option A"}, {Label: "Option B"}}},
		{Question: "Proceed?", Options: []chat.Option{{Label: "Yes"}}},
	})

	assert.Equal(t, "Option B", answers["Which approach?"])
	assert.Equal(t, NoResponse, answers["Proceed?"], "unanswered question resolves to the sentinel")
}

// failingWriter always errors, standing in for a closed stdin pipe.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestBridge_DeliverClaude(t *testing.T) {
	t.Parallel()
	b := NewBridge(NewManager(chattest.NewRecorder(), testLogger()), testLogger())

	var stdin bytes.Buffer
	b.Deliver(&claude.Adapter{}, &stdin, "toolu_1", stream.Decision{Behavior: "allow"})

	id, content, isError, err := claude.ParseToolResultPayload(stdin.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "toolu_1", id)
	assert.Empty(t, content)
	assert.False(t, isError)
}

func TestBridge_DeliverDropsWhenUnavailable(t *testing.T) {
	t.Parallel()
	b := NewBridge(NewManager(chattest.NewRecorder(), testLogger()), testLogger())

	// No stdin at all.
	b.Deliver(&claude.Adapter{}, nil, "toolu_2", stream.Decision{Behavior: "deny", Message: "x"})
	// Stdin write fails.
	b.Deliver(&claude.Adapter{}, failingWriter{}, "toolu_3", stream.Decision{Behavior: "deny", Message: "x"})
	// Provider takes no stdin decisions at all.
	b.Deliver(&codex.Adapter{}, &bytes.Buffer{}, "item_0", stream.Decision{Behavior: "allow"})
}
