package runner

import (
	"sync"

	"github.com/wrathagom/ai-discord-bot/chat"
)

// State is the lifecycle position of a channel.
type State int

const (
	// StateIdle means no reservation and no process.
	StateIdle State = iota
	// StateReserved means a placeholder is installed but the process has not
	// started yet. A second reservation observes this, closing the race
	// between "check if busy" and "install process handle".
	StateReserved
	// StateRunning means a provider process is active.
	StateRunning
)

// Outcome labels how a run ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeTimedOut   Outcome = "timed_out"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeStopped    Outcome = "stopped"
)

// ToolCallRecord correlates a tool invocation with the status message created
// when it was first shown, so the eventual result updates that message
// instead of duplicating it. Records are destroyed when the run's process
// reference is cleared.
type ToolCallRecord struct {
	Input  map[string]interface{}
	Handle chat.Handle
	Name   string
}

// ChannelSession is the per-channel state. At most one non-terminated
// process exists per channel at any time. The session outlives individual
// runs; only an explicit reset deletes it.
type ChannelSession struct {
	toolCalls map[string]ToolCallRecord
	run       *Run // nil unless RESERVED (placeholder) or RUNNING
	Channel   string
	SessionID string // provider continuation id, empty until SessionStarted
	WorkDir   string
	reserved  bool
	running   bool
}

// Registry owns all per-channel session state. Every mutation goes through
// its mutex; within a run, events mutate the session only from that run's
// single worker goroutine.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*ChannelSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*ChannelSession)}
}

// ensure returns the session for channel, creating it if needed.
// Caller must hold r.mu.
func (r *Registry) ensure(channel string) *ChannelSession {
	sess, ok := r.sessions[channel]
	if !ok {
		sess = &ChannelSession{
			Channel:   channel,
			toolCalls: make(map[string]ToolCallRecord),
		}
		r.sessions[channel] = sess
	}
	return sess
}

// State reports the channel's lifecycle position.
func (r *Registry) State(channel string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channel]
	switch {
	case !ok || !sess.reserved:
		return StateIdle
	case !sess.running:
		return StateReserved
	default:
		return StateRunning
	}
}

// reserve installs ru as the channel's pending run. A RUNNING predecessor is
// returned for the caller to supersede; an unstarted reservation fails fast.
func (r *Registry) reserve(channel string, ru *Run) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.ensure(channel)
	var prev *Run
	if sess.reserved {
		if !sess.running {
			return nil, ErrChannelBusy
		}
		prev = sess.run
	}
	sess.run = ru
	sess.reserved = true
	sess.running = false
	sess.toolCalls = make(map[string]ToolCallRecord)
	return prev, nil
}

// markRunning flips the channel from RESERVED to RUNNING once the process
// has started. A stale run (already superseded) is ignored.
func (r *Registry) markRunning(channel string, ru *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[channel]; ok && sess.run == ru {
		sess.running = true
	}
}

// setWorkDir records the channel's last working directory.
func (r *Registry) setWorkDir(channel, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(channel).WorkDir = dir
}

// Busy reports whether the channel has a reservation or an active process.
// The message-intake layer drops (not queues) new prompts for busy channels.
func (r *Registry) Busy(channel string) bool {
	return r.State(channel) != StateIdle
}

// SessionID returns the stored continuation id for the channel.
func (r *Registry) SessionID(channel string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[channel]; ok {
		return sess.SessionID
	}
	return ""
}

// setSessionID records the continuation id streamed by the provider.
func (r *Registry) setSessionID(channel, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(channel).SessionID = id
}

// recordToolCall installs a correlation record for an invocation id.
func (r *Registry) recordToolCall(channel, invocationID string, rec ToolCallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(channel).toolCalls[invocationID] = rec
}

// lookupToolCall fetches the correlation record for an invocation id.
func (r *Registry) lookupToolCall(channel, invocationID string) (ToolCallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channel]
	if !ok {
		return ToolCallRecord{}, false
	}
	rec, ok := sess.toolCalls[invocationID]
	return rec, ok
}

// clearRun clears the channel's process reference and destroys its tool-call
// records. The session itself (continuation id included) survives. Only the
// exit path calls this, preserving single-writer discipline.
func (r *Registry) clearRun(channel string, ru *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channel]
	if !ok {
		return
	}
	// A superseding run may already have replaced the entry; only the owner
	// clears it.
	if sess.run == ru {
		sess.run = nil
		sess.reserved = false
		sess.running = false
		sess.toolCalls = make(map[string]ToolCallRecord)
	}
}

// Reset deletes the whole session. Returns the running process's run to
// kill, if any; a not-yet-started placeholder cleans itself up when its
// spawn notices the session is gone.
func (r *Registry) Reset(channel string) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[channel]
	if !ok {
		return nil
	}
	delete(r.sessions, channel)
	if sess.running {
		return sess.run
	}
	return nil
}

// activeRun returns the channel's running process's run, or nil. Placeholder
// reservations are excluded so callers never observe a run without a started
// process behind it.
func (r *Registry) activeRun(channel string) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[channel]; ok && sess.running {
		return sess.run
	}
	return nil
}
