// Package approval brokers human-in-the-loop decisions for tool calls. A
// pending interaction is created when a provider blocks on permission,
// surfaced through the chat Messenger, and resolved exactly once by a human
// decision, an externally delivered decision, or a timeout (fail closed).
package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrathagom/ai-discord-bot/chat"
	"github.com/wrathagom/ai-discord-bot/stream"
)

// NoResponse is the sentinel answer for questions that expire unanswered.
const NoResponse = "(no response)"

const (
	// DefaultApprovalTimeout bounds the wait for a simple tool approval.
	DefaultApprovalTimeout = 60 * time.Second
	// DefaultPlanTimeout bounds the wait for a whole-plan approval.
	DefaultPlanTimeout = 10 * time.Minute
)

// Request describes one approval to broker.
type Request struct {
	Input         map[string]interface{}
	Channel       string
	ToolName      string
	CorrelationID string // assigned when empty
	Plan          bool   // whole-plan approval; uses the longer timeout
}

// pending is a single-resolution slot for one interaction.
type pending struct {
	decision stream.Decision
	answer   string
	done     chan struct{}
	cancel   context.CancelFunc
	once     sync.Once
}

func (p *pending) resolve(d stream.Decision, answer string) bool {
	resolved := false
	p.once.Do(func() {
		p.decision = d
		p.answer = answer
		p.cancel()
		close(p.done)
		resolved = true
	})
	return resolved
}

// Manager owns the set of pending interactions, keyed by correlation id.
// Resolve is the only writer and is idempotent against duplicate deliveries.
type Manager struct {
	messenger       chat.Messenger
	log             *slog.Logger
	mu              sync.Mutex
	interactions    map[string]*pending
	approvalTimeout time.Duration
	planTimeout     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeouts overrides the approval and plan timeouts.
func WithTimeouts(approval, plan time.Duration) Option {
	return func(m *Manager) {
		m.approvalTimeout = approval
		m.planTimeout = plan
	}
}

// NewManager creates a Manager presenting through messenger.
func NewManager(messenger chat.Messenger, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		messenger:       messenger,
		log:             log,
		interactions:    make(map[string]*pending),
		approvalTimeout: DefaultApprovalTimeout,
		planTimeout:     DefaultPlanTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// register installs a pending interaction and returns it with the context
// governing its widget call.
func (m *Manager) register(ctx context.Context, id string) (*pending, context.Context) {
	widgetCtx, cancel := context.WithCancel(ctx)
	p := &pending{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	m.mu.Lock()
	m.interactions[id] = p
	m.mu.Unlock()
	return p, widgetCtx
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.interactions, id)
	m.mu.Unlock()
}

// RequestApproval presents req and blocks until a decision, an external
// resolution, or the timeout. Expiry resolves to deny with a "timed out"
// rationale so the agent reads a well-formed rejection.
func (m *Manager) RequestApproval(ctx context.Context, req Request) stream.Decision {
	id := req.CorrelationID
	if id == "" {
		id = uuid.NewString()
	}

	p, widgetCtx := m.register(ctx, id)
	defer m.remove(id)

	timeout := m.approvalTimeout
	if req.Plan {
		timeout = m.planTimeout
	}

	go func() {
		d, err := m.messenger.PresentApproval(widgetCtx, req.Channel, req.ToolName, req.Input)
		if err != nil {
			// Widget cancelled or failed; the timer or an external decision
			// settles the interaction.
			return
		}
		m.resolve(id, p, d, "")
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		if m.resolve(id, p, stream.Decision{Behavior: "deny", Message: "timed out"}, "") {
			m.log.Warn("approval timed out", "channel", req.Channel, "tool", req.ToolName, "id", id)
		}
		<-p.done
	case <-ctx.Done():
		m.resolve(id, p, stream.Decision{Behavior: "deny", Message: "cancelled"}, "")
		<-p.done
	}

	return p.decision
}

// AskQuestions presents each question and collects answers keyed by question
// text. An unanswered question maps to the NoResponse sentinel.
func (m *Manager) AskQuestions(ctx context.Context, channel string, questions []chat.Question) map[string]string {
	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		answers[q.Question] = m.askOne(ctx, channel, q)
	}
	return answers
}

func (m *Manager) askOne(ctx context.Context, channel string, q chat.Question) string {
	id := uuid.NewString()
	p, widgetCtx := m.register(ctx, id)
	defer m.remove(id)

	go func() {
		answer, err := m.messenger.PresentChoice(widgetCtx, channel, q)
		if err != nil {
			return
		}
		m.resolve(id, p, stream.Decision{}, answer)
	}()

	timer := time.NewTimer(m.approvalTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		m.resolve(id, p, stream.Decision{}, NoResponse)
		<-p.done
	case <-ctx.Done():
		m.resolve(id, p, stream.Decision{}, NoResponse)
		<-p.done
	}

	return p.answer
}

// HandleExternalDecision resolves a pending interaction from an externally
// delivered decision (button press or reaction). A decision for an unknown or
// already-resolved interaction is ignored; duplicate delivery is a no-op.
func (m *Manager) HandleExternalDecision(correlationID string, d stream.Decision) bool {
	m.mu.Lock()
	p, ok := m.interactions[correlationID]
	m.mu.Unlock()
	if !ok {
		m.log.Debug("decision for unknown interaction dropped", "id", correlationID)
		return false
	}
	return m.resolve(correlationID, p, d, d.Message)
}

func (m *Manager) resolve(id string, p *pending, d stream.Decision, answer string) bool {
	resolved := p.resolve(d, answer)
	if resolved {
		m.log.Debug("interaction resolved", "id", id, "behavior", d.Behavior)
	}
	return resolved
}

// PendingCount returns the number of unresolved interactions.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.interactions)
}

// PendingIDs returns the correlation ids of unresolved interactions.
func (m *Manager) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.interactions))
	for id := range m.interactions {
		ids = append(ids, id)
	}
	return ids
}
