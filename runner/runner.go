// Package runner owns provider process lifecycles. It enforces the
// one-process-per-channel invariant, spawns provider CLIs with their streamed
// output wired into the canonical event model, and guarantees every run ends
// in exactly one terminal state with its resources reclaimed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/wrathagom/ai-discord-bot/approval"
	"github.com/wrathagom/ai-discord-bot/chat"
	"github.com/wrathagom/ai-discord-bot/internal/ndjson"
	"github.com/wrathagom/ai-discord-bot/internal/procattr"
	"github.com/wrathagom/ai-discord-bot/metrics"
	"github.com/wrathagom/ai-discord-bot/stream"
)

const (
	// DefaultRunTimeout bounds a single provider run end to end.
	DefaultRunTimeout = 5 * time.Minute

	// killGracePeriod is how long a signalled process gets before SIGKILL.
	killGracePeriod = 5 * time.Second

	// eventBuffer bounds the queue between the stdout reader and the
	// per-channel dispatch worker. The reader blocks when the worker is stuck
	// on a slow chat-surface call and the buffer fills; events are never
	// dropped or reordered.
	eventBuffer = 256

	// stderrTail is how many trailing stderr bytes are kept for diagnostics.
	stderrTail = 4096
)

// Provider is a stream adapter that also knows its CLI binary.
type Provider interface {
	stream.Adapter

	// Command returns the provider binary path or name.
	Command() string
}

// SessionStore persists continuation ids across restarts. Optional.
type SessionStore interface {
	SetSessionID(channel, sessionID string) error
}

// Run is one spawned provider process. It is created RESERVED, transitions
// to running when the process starts, and settles on exactly one outcome.
type Run struct {
	channel  string
	provider Provider

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailWriter

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer

	done chan struct{}

	mu      sync.Mutex
	mark    Outcome // pre-exit mark (timed_out, superseded, stopped)
	result  *stream.TurnCompleted
	running bool
	err     error
	outcome Outcome
}

// Done is closed after the run has fully settled and its channel is released.
func (ru *Run) Done() <-chan struct{} { return ru.done }

// Outcome reports how the run ended. Valid after Done is closed.
func (ru *Run) Outcome() Outcome {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.outcome
}

// Err reports the run's terminal error, if any. Valid after Done is closed.
func (ru *Run) Err() error {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.err
}

// markIf records a pre-exit outcome mark. First mark wins.
func (ru *Run) markIf(o Outcome) bool {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	if ru.mark != "" {
		return false
	}
	ru.mark = o
	return true
}

// signal asks the process group to exit, escalating to SIGKILL after the
// grace period. Cleanup happens only on the run's exit path.
func (ru *Run) signal() {
	p := ru.cmd.Process
	if err := procattr.SignalGroup(p, syscall.SIGTERM); err != nil {
		_ = procattr.KillGroup(p)
		return
	}
	grace := time.AfterFunc(killGracePeriod, func() { _ = procattr.KillGroup(p) })
	go func() {
		<-ru.done
		grace.Stop()
	}()
}

// Runner spawns and supervises provider processes.
type Runner struct {
	registry  *Registry
	messenger chat.Messenger
	bridge    *approval.Bridge
	store     SessionStore
	log       *slog.Logger

	runTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunTimeout overrides the per-run wall-clock bound.
func WithRunTimeout(d time.Duration) Option {
	return func(r *Runner) { r.runTimeout = d }
}

// WithSessionStore persists continuation ids through store.
func WithSessionStore(s SessionStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a Runner dispatching to messenger and brokering
// approvals through bridge.
func NewRunner(messenger chat.Messenger, bridge *approval.Bridge, opts ...Option) *Runner {
	r := &Runner{
		registry:   NewRegistry(),
		messenger:  messenger,
		bridge:     bridge,
		log:        slog.Default(),
		runTimeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Busy reports whether the channel has a reservation or an active process.
func (r *Runner) Busy(channel string) bool { return r.registry.Busy(channel) }

// SessionID returns the channel's stored continuation id.
func (r *Runner) SessionID(channel string) string { return r.registry.SessionID(channel) }

// Spawn starts a provider process for the channel. A RUNNING predecessor is
// superseded (killed, its cleanup deferred to its own exit path); an existing
// reservation that has not yet started fails fast with ErrChannelBusy. When
// spec.SessionID is empty the channel's stored continuation id is used.
func (r *Runner) Spawn(ctx context.Context, channel string, provider Provider, spec stream.SpawnSpec) (*Run, error) {
	if spec.SessionID == "" {
		spec.SessionID = r.registry.SessionID(channel)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ru := &Run{
		channel:  channel,
		provider: provider,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		stderr:   newTailWriter(stderrTail),
	}

	prev, err := r.registry.reserve(channel, ru)
	if err != nil {
		cancel()
		return nil, err
	}
	if prev != nil {
		r.log.Info("superseding active run", "channel", channel)
		if prev.markIf(OutcomeSuperseded) {
			prev.signal()
		}
	}

	if info, statErr := os.Stat(spec.WorkDir); statErr != nil || !info.IsDir() {
		r.registry.clearRun(channel, ru)
		cancel()
		return nil, &DirectoryNotFoundError{Path: spec.WorkDir}
	}

	cmd := exec.Command(provider.Command(), provider.BuildArgs(spec)...)
	cmd.Dir = spec.WorkDir
	cmd.Stderr = ru.stderr
	procattr.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.registry.clearRun(channel, ru)
		cancel()
		return nil, &ProcessError{Cause: err, Message: "opening stdin pipe"}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.registry.clearRun(channel, ru)
		cancel()
		return nil, &ProcessError{Cause: err, Message: "opening stdout pipe"}
	}

	if err := cmd.Start(); err != nil {
		r.registry.clearRun(channel, ru)
		cancel()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &CLINotFoundError{Cause: err, Path: provider.Command()}
		}
		return nil, &ProcessError{Cause: err, Message: "starting provider process"}
	}

	ru.cmd = cmd
	ru.stdin = stdin
	r.registry.markRunning(channel, ru)
	r.registry.setWorkDir(channel, spec.WorkDir)
	metrics.RunsStarted.WithLabelValues(provider.Name()).Inc()
	r.log.Info("provider spawned",
		"channel", channel,
		"provider", provider.Name(),
		"pid", cmd.Process.Pid,
		"mode", string(spec.PermissionMode))

	ru.timer = time.AfterFunc(r.runTimeout, func() {
		if ru.markIf(OutcomeTimedOut) {
			r.log.Warn("run timed out", "channel", channel, "provider", provider.Name())
			ru.signal()
		}
	})

	events := make(chan stream.Event, eventBuffer)
	readerDone := make(chan struct{})
	workerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		r.readLoop(ru, stdout, events)
	}()
	go func() {
		defer close(workerDone)
		r.dispatchLoop(ru, spec, events)
	}()
	go r.waitLoop(ru, readerDone, workerDone)

	return ru, nil
}

// readLoop frames stdout into lines, parses each through the adapter, and
// hands the events to the dispatch worker in order.
func (r *Runner) readLoop(ru *Run, stdout io.Reader, events chan<- stream.Event) {
	defer close(events)
	rd := ndjson.NewReader(stdout)
	for {
		line, err := rd.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Warn("stdout read failed", "channel", ru.channel, "error", err)
			}
			return
		}
		for _, ev := range ru.provider.ParseLine(line) {
			metrics.EventsParsed.WithLabelValues(ru.provider.Name(), eventKindLabel(ev)).Inc()
			events <- ev
		}
	}
}

// dispatchLoop is the run's single consumer. It applies events to the channel
// session and the chat surface strictly in stream order; a slow or awaited
// chat call backpressures the reader rather than reordering.
func (r *Runner) dispatchLoop(ru *Run, spec stream.SpawnSpec, events <-chan stream.Event) {
	for ev := range events {
		switch ev := ev.(type) {
		case stream.SessionStarted:
			r.onSessionStarted(ru, ev)
		case stream.AssistantText:
			if ev.Text != "" {
				r.sendStatus(ru, ev.Text)
			}
		case stream.ToolInvoked:
			r.onToolInvoked(ru, ev)
		case stream.ToolResult:
			r.onToolResult(ru, ev)
		case stream.PermissionRequested:
			r.onPermissionRequested(ru, spec, ev)
		case stream.TurnCompleted:
			ru.mu.Lock()
			ru.result = &ev
			ru.mu.Unlock()
		case stream.Warning:
			r.sendStatus(ru, "⚠️ "+ev.Text)
		case stream.Malformed:
			metrics.MalformedLines.WithLabelValues(ru.provider.Name()).Inc()
			r.log.Debug("malformed provider line",
				"channel", ru.channel,
				"line", stream.FirstLine(ev.Line, 200))
		}
	}
}

func (r *Runner) onSessionStarted(ru *Run, ev stream.SessionStarted) {
	if ev.SessionID == "" {
		return
	}
	r.registry.setSessionID(ru.channel, ev.SessionID)
	if r.store != nil {
		if err := r.store.SetSessionID(ru.channel, ev.SessionID); err != nil {
			r.log.Warn("persisting session id failed", "channel", ru.channel, "error", err)
		}
	}
	r.log.Debug("session started",
		"channel", ru.channel,
		"session_id", ev.SessionID,
		"model", ev.Model)
}

func (r *Runner) onToolInvoked(ru *Run, ev stream.ToolInvoked) {
	content := formatToolLine(ev.Name, ev.Input)
	handle, err := r.messenger.SendStatus(ru.ctx, ru.channel, content)
	if err != nil {
		r.log.Warn("status send failed", "channel", ru.channel, "error", err)
		return
	}
	if ev.ID != "" {
		r.registry.recordToolCall(ru.channel, ev.ID, ToolCallRecord{
			Handle: handle,
			Name:   ev.Name,
			Input:  ev.Input,
		})
	}
}

func (r *Runner) onToolResult(ru *Run, ev stream.ToolResult) {
	marker := "✓"
	if ev.IsError {
		marker = "✗"
	}
	rec, ok := r.registry.lookupToolCall(ru.channel, ev.InvocationID)
	if !ok {
		// Result with no recorded invocation (e.g. file-change summaries);
		// rendered standalone rather than dropped.
		line := marker
		if ev.Summary != "" {
			line += " " + ev.Summary
		}
		r.sendStatus(ru, line)
		return
	}
	content := formatToolLine(rec.Name, rec.Input) + " " + marker
	if ev.Summary != "" {
		content += " " + ev.Summary
	}
	if err := r.messenger.UpdateStatus(ru.ctx, rec.Handle, content); err != nil {
		r.log.Warn("status update failed", "channel", ru.channel, "error", err)
	}
}

// onPermissionRequested blocks the worker on the human decision. The run's
// context is cancelled when the process exits, so a killed run unblocks any
// pending approval as a denial.
func (r *Runner) onPermissionRequested(ru *Run, spec stream.SpawnSpec, ev stream.PermissionRequested) {
	plan := spec.PermissionMode == stream.PermissionModePlan
	d := r.bridge.Resolve(ru.ctx, ru.channel, plan, ev)
	metrics.ApprovalsResolved.WithLabelValues(metrics.ApprovalOutcome(d.Behavior, d.Message)).Inc()
	r.bridge.Deliver(ru.provider, ru.stdin, ev.InvocationID, d)
}

// waitLoop reaps the process and settles the run: one outcome, one terminal
// chat notification, channel released.
func (r *Runner) waitLoop(ru *Run, readerDone, workerDone <-chan struct{}) {
	// Wait closes the stdout pipe, so reaping must come after the reader has
	// drained it to EOF; otherwise lines still buffered at process exit, the
	// terminal result record included, would be lost.
	<-readerDone
	waitErr := ru.cmd.Wait()
	ru.timer.Stop()

	// Unblock any approval wait, then let the worker drain what the reader
	// already queued.
	ru.cancel()
	<-workerDone

	outcome, runErr := r.settle(ru, waitErr)
	r.registry.clearRun(ru.channel, ru)
	metrics.RunsFinished.WithLabelValues(ru.provider.Name(), string(outcome)).Inc()
	r.log.Info("run finished",
		"channel", ru.channel,
		"provider", ru.provider.Name(),
		"outcome", string(outcome))

	r.notifyTerminal(ru, outcome, runErr)
	close(ru.done)
}

// settle decides the run's single terminal outcome. A pre-exit mark
// (supersede, stop, timeout) wins over whatever the exit status says; a zero
// exit code or an observed terminal record settles COMPLETED.
func (r *Runner) settle(ru *Run, waitErr error) (Outcome, error) {
	ru.mu.Lock()
	defer ru.mu.Unlock()

	switch {
	case ru.mark != "":
		ru.outcome = ru.mark
	case waitErr == nil || ru.result != nil:
		ru.outcome = OutcomeCompleted
	default:
		ru.outcome = OutcomeFailed
		ru.err = &ProcessError{
			Cause:    waitErr,
			Message:  "provider exited without a successful result",
			Stderr:   ru.stderr.String(),
			ExitCode: exitCode(waitErr),
		}
	}
	return ru.outcome, ru.err
}

// notifyTerminal sends the run's one terminal chat message.
func (r *Runner) notifyTerminal(ru *Run, outcome Outcome, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var content string
	switch outcome {
	case OutcomeCompleted:
		ru.mu.Lock()
		res := ru.result
		ru.mu.Unlock()
		content = "✅ Done"
		if res != nil {
			if res.CostUSD != nil {
				content += fmt.Sprintf(" · $%.4f", *res.CostUSD)
			} else if res.Usage != "" {
				content += " · " + res.Usage
			}
			if res.Turns > 0 {
				content += fmt.Sprintf(" · %d turns", res.Turns)
			}
		}
	case OutcomeFailed:
		content = "❌ Run failed"
		var perr *ProcessError
		if errors.As(runErr, &perr) {
			if perr.ExitCode != 0 {
				content += fmt.Sprintf(" (exit code %d)", perr.ExitCode)
			}
			if tail := stream.FirstLine(perr.Stderr, 200); tail != "" {
				content += ": " + tail
			}
		}
	case OutcomeTimedOut:
		content = fmt.Sprintf("⏱️ Run timed out after %s", r.runTimeout)
	case OutcomeStopped:
		content = "🛑 Run stopped"
	case OutcomeSuperseded:
		content = "↩️ Run superseded by a newer request"
	}
	if content == "" {
		return
	}
	if _, err := r.messenger.SendStatus(ctx, ru.channel, content); err != nil {
		r.log.Warn("terminal notification failed", "channel", ru.channel, "error", err)
	}
}

// Kill stops the channel's active run. Signals only; state cleanup happens on
// the run's own exit path.
func (r *Runner) Kill(channel string) error {
	ru := r.registry.activeRun(channel)
	if ru == nil {
		return ErrNotRunning
	}
	if ru.markIf(OutcomeStopped) {
		ru.signal()
	}
	return nil
}

// Reset kills any active run and deletes the channel's session, dropping the
// continuation id so the next prompt starts fresh.
func (r *Runner) Reset(channel string) {
	ru := r.registry.Reset(channel)
	if ru != nil && ru.markIf(OutcomeStopped) {
		ru.signal()
	}
}

func (r *Runner) sendStatus(ru *Run, content string) {
	if _, err := r.messenger.SendStatus(ru.ctx, ru.channel, content); err != nil {
		r.log.Warn("status send failed", "channel", ru.channel, "error", err)
	}
}

// formatToolLine renders a tool invocation as a one-line status message.
func formatToolLine(name string, input map[string]interface{}) string {
	detail := ""
	for _, key := range []string{"command", "file_path", "path", "pattern", "url", "description"} {
		if v, ok := input[key].(string); ok && v != "" {
			detail = stream.FirstLine(v, 120)
			break
		}
	}
	if detail == "" {
		return "🔧 " + name
	}
	return fmt.Sprintf("🔧 %s: %s", name, detail)
}

func eventKindLabel(ev stream.Event) string {
	switch ev.Kind() {
	case stream.KindSessionStarted:
		return "session_started"
	case stream.KindAssistantText:
		return "assistant_text"
	case stream.KindToolInvoked:
		return "tool_invoked"
	case stream.KindToolResult:
		return "tool_result"
	case stream.KindPermissionRequested:
		return "permission_requested"
	case stream.KindTurnCompleted:
		return "turn_completed"
	case stream.KindWarning:
		return "warning"
	default:
		return "malformed"
	}
}

func exitCode(waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return 0
}

// tailWriter keeps only the trailing max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
