package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wrathagom/ai-discord-bot/chat"
	"github.com/wrathagom/ai-discord-bot/relay"
)

// ApprovalServerName is the MCP server name the CLI addresses tools under
// (mcp__approvals__approve).
const ApprovalServerName = "approvals"

// ApproveParams is the input of the approve tool. The shape mirrors what the
// CLI passes to its permission prompt tool.
type ApproveParams struct {
	ToolName string                 `json:"tool_name" jsonschema:"required,description=Name of the tool requesting permission"`
	Input    map[string]interface{} `json:"input,omitempty" jsonschema:"description=The tool call input being approved"`
	Context  string                 `json:"context,omitempty" jsonschema:"description=Free-form context shown to the approver"`
	Plan     bool                   `json:"plan,omitempty" jsonschema:"description=Whether this approves a whole plan"`
}

// AskQuestionParams is the input of the ask_question tool.
type AskQuestionParams struct {
	Questions []chat.Question `json:"questions" jsonschema:"required,description=Questions to put to the user"`
}

// NewApprovalRegistry builds the approvals tool set, forwarding every call
// through client to the bridge. The approve tool's result text is the
// decision JSON the CLI parses; denial is expressed in that payload, not as a
// tool error.
func NewApprovalRegistry(client *relay.Client) *Registry {
	registry := NewRegistry()

	AddTool(registry, "approve",
		"Request human approval for a tool call. Returns a JSON decision with behavior \"allow\" or \"deny\".",
		func(ctx context.Context, params ApproveParams) (string, error) {
			// Approve fails closed: a relay error comes back with a deny
			// decision, which is still the payload the CLI needs to see.
			d, _ := client.Approve(ctx, relay.ApproveRequest{
				ToolName: params.ToolName,
				Input:    params.Input,
				Context:  params.Context,
				Plan:     params.Plan,
			})
			encoded, err := json.Marshal(d)
			if err != nil {
				return "", fmt.Errorf("encode decision: %w", err)
			}
			return string(encoded), nil
		})

	AddTool(registry, "ask_question",
		"Ask the user one or more questions through the chat surface and return their answers.",
		func(ctx context.Context, params AskQuestionParams) (string, error) {
			resp, err := client.Ask(ctx, relay.AskRequest{Questions: params.Questions})
			if err != nil {
				return "", fmt.Errorf("relay unavailable: %w", err)
			}
			encoded, err := json.Marshal(resp.Answers)
			if err != nil {
				return "", fmt.Errorf("encode answers: %w", err)
			}
			return string(encoded), nil
		})

	return registry
}
