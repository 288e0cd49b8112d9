package approval

import (
	"context"
	"io"
	"log/slog"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// Bridge translates in-band permission events into out-of-band human
// decisions and back into the stdin write the blocked provider is waiting on.
type Bridge struct {
	Approvals *Manager
	Log       *slog.Logger
}

// NewBridge creates a Bridge over the given manager.
func NewBridge(approvals *Manager, log *slog.Logger) *Bridge {
	return &Bridge{Approvals: approvals, Log: log}
}

// Resolve fetches a decision for a permission request. plan selects the
// longer whole-plan timeout.
func (b *Bridge) Resolve(ctx context.Context, channel string, plan bool, ev stream.PermissionRequested) stream.Decision {
	return b.Approvals.RequestApproval(ctx, Request{
		Channel:       channel,
		ToolName:      ev.ToolName,
		Input:         ev.Input,
		CorrelationID: ev.InvocationID,
		Plan:          plan,
	})
}

// Deliver serializes the decision through the adapter and writes it,
// newline-terminated, to the provider's stdin. A missing or closed stdin is a
// terminal no-op: the process that would have consumed the response no longer
// exists, so the write is logged and dropped, never retried.
func (b *Bridge) Deliver(adapter stream.Adapter, stdin io.Writer, invocationID string, d stream.Decision) {
	payload, ok := adapter.FormatDecision(invocationID, d)
	if !ok {
		b.Log.Debug("provider takes no stdin decisions", "provider", adapter.Name(), "id", invocationID)
		return
	}
	if stdin == nil {
		b.Log.Warn("bridge unavailable, dropping decision", "provider", adapter.Name(), "id", invocationID)
		return
	}
	if _, err := stdin.Write(payload); err != nil {
		b.Log.Warn("bridge write failed, dropping decision", "provider", adapter.Name(), "id", invocationID, "error", err)
	}
}
