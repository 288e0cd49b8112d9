package claude

import (
	"encoding/json"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// approvalToolName is the MCP tool the CLI calls for permission prompts when
// running in approve mode (server "approvals", tool "approve").
const approvalToolName = "mcp__approvals__approve"

// BuildArgs constructs the Claude CLI argument vector for a spawn.
//
// The CLI is invoked in one-shot mode:
//
//	claude -p <prompt> --output-format stream-json --verbose [options]
func (a *Adapter) BuildArgs(spec stream.SpawnSpec) []string {
	args := []string{
		"-p", spec.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}

	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}

	if spec.SessionID != "" {
		args = append(args, "--resume", spec.SessionID)
	}

	switch spec.PermissionMode {
	case stream.PermissionModeYolo:
		args = append(args, "--dangerously-skip-permissions")
	case stream.PermissionModePlan:
		args = append(args, "--permission-mode", "plan")
	default:
		// Approve mode routes risky tool calls through the approvals MCP
		// server, registered inline so the CLI spawns it itself.
		args = append(args, "--permission-prompt-tool", approvalToolName)
		if len(spec.RelayCommand) > 0 {
			args = append(args, "--mcp-config", mcpConfig(spec.RelayCommand))
		}
	}

	args = append(args, spec.ExtraArgs...)
	return args
}

// mcpConfig renders the inline MCP server config registering the approvals
// server under the name the permission prompt tool addresses.
func mcpConfig(command []string) string {
	cfg := map[string]interface{}{
		"mcpServers": map[string]interface{}{
			"approvals": map[string]interface{}{
				"command": command[0],
				"args":    command[1:],
			},
		},
	}
	data, _ := json.Marshal(cfg)
	return string(data)
}

// Command returns the provider binary path.
func (a *Adapter) Command() string {
	if a.CLIPath != "" {
		return a.CLIPath
	}
	return "claude"
}
