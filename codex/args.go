package codex

import (
	"github.com/wrathagom/ai-discord-bot/stream"
)

// BuildArgs constructs the Codex CLI argument vector for a spawn.
//
// The CLI is invoked in non-interactive mode:
//
//	codex exec [resume <id>] --json [options] <prompt>
//
// Codex cannot pause for out-of-band approval in exec mode, so permission
// modes map onto sandbox strictness instead of the approval bridge.
func (a *Adapter) BuildArgs(spec stream.SpawnSpec) []string {
	args := []string{"exec"}

	if spec.SessionID != "" {
		args = append(args, "resume", spec.SessionID)
	}

	args = append(args, "--json", "--skip-git-repo-check")

	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}

	switch spec.PermissionMode {
	case stream.PermissionModeYolo:
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	case stream.PermissionModePlan:
		args = append(args, "--sandbox", "read-only")
	default:
		args = append(args, "--sandbox", "workspace-write")
	}

	args = append(args, spec.ExtraArgs...)
	args = append(args, spec.Prompt)
	return args
}

// Command returns the provider binary path.
func (a *Adapter) Command() string {
	if a.CLIPath != "" {
		return a.CLIPath
	}
	return "codex"
}

// FormatDecision reports that Codex takes no stdin tool results in the modes
// this bridge uses it in.
func (a *Adapter) FormatDecision(string, stream.Decision) ([]byte, bool) {
	return nil, false
}
