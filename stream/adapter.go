package stream

import (
	"encoding/json"
	"strings"
)

// PermissionMode selects how risky tool calls are handled for a run.
type PermissionMode string

const (
	// PermissionModeYolo skips all permission checks.
	PermissionModeYolo PermissionMode = "yolo"
	// PermissionModeApprove requires human approval for every risky action.
	PermissionModeApprove PermissionMode = "approve"
	// PermissionModePlan plans first, then requires one approval for the plan.
	PermissionModePlan PermissionMode = "plan"
)

// ValidPermissionMode reports whether s names a known permission mode.
func ValidPermissionMode(s string) bool {
	switch PermissionMode(s) {
	case PermissionModeYolo, PermissionModeApprove, PermissionModePlan:
		return true
	}
	return false
}

// SpawnSpec describes one provider invocation.
type SpawnSpec struct {
	Prompt         string
	WorkDir        string
	SessionID      string // resume/continuation id; empty for a fresh session
	Model          string
	PermissionMode PermissionMode
	RelayCommand   []string // approval relay argv, for adapters that shell out
	ExtraArgs      []string // escape hatch appended verbatim
}

// Decision is a resolved approval carried back to a blocked provider.
type Decision struct {
	Behavior string `json:"behavior"` // "allow" or "deny"
	Message  string `json:"message,omitempty"`
}

// Allowed reports whether the decision permits the tool call.
func (d Decision) Allowed() bool { return d.Behavior == "allow" }

// Adapter maps one provider's native JSON schema onto the canonical event
// model. Implementations must be safe for use from a single goroutine per
// spawned process; they may keep per-run parse state.
type Adapter interface {
	// Name identifies the provider ("claude" or "codex").
	Name() string

	// BuildArgs constructs the provider CLI argument vector for a spawn.
	BuildArgs(spec SpawnSpec) []string

	// ParseLine maps one stdout line onto zero or more canonical events.
	// Unparseable lines yield a single Malformed event.
	ParseLine(line []byte) []Event

	// FormatDecision serializes an approval decision into the newline-ready
	// stdin payload the provider expects as a tool result. ok is false for
	// providers that do not accept stdin tool results in the modes used here.
	FormatDecision(invocationID string, d Decision) (payload []byte, ok bool)
}

// FirstLine returns the first line of s, truncated to max bytes. Used by
// adapters to produce bounded tool-result summaries.
func FirstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if max > 0 && len(s) > max {
		s = s[:max] + "…"
	}
	return s
}

// DecodeInput unmarshals a raw tool input object into a map, returning an
// empty map for absent or non-object input.
func DecodeInput(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]interface{}{}
	}
	return m
}
