package claude

import (
	"encoding/json"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// toolResultPayload is the stdin message shape the CLI expects when a tool
// result is supplied externally: a user message whose content holds a single
// tool_result block, with the decision JSON-encoded inside the content field.
type toolResultPayload struct {
	Type    string            `json:"type"`
	Message toolResultMessage `json:"message"`
}

type toolResultMessage struct {
	Role    string            `json:"role"`
	Content []toolResultBlock `json:"content"`
}

type toolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// FormatDecision serializes an approval decision into the newline-terminated
// stdin payload the blocked CLI is waiting to read. Allowed decisions carry
// empty content; denials carry the decision object so the agent can read the
// rejection rationale.
func (a *Adapter) FormatDecision(invocationID string, d stream.Decision) ([]byte, bool) {
	content := ""
	if !d.Allowed() {
		encoded, err := json.Marshal(d)
		if err != nil {
			return nil, false
		}
		content = string(encoded)
	}

	payload := toolResultPayload{
		Type: "user",
		Message: toolResultMessage{
			Role: "user",
			Content: []toolResultBlock{{
				Type:      "tool_result",
				ToolUseID: invocationID,
				Content:   content,
				IsError:   !d.Allowed(),
			}},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return append(data, '\n'), true
}

// ParseToolResultPayload decodes a stdin payload the way the CLI would,
// returning the tool_use id, raw content, and error flag. Used to verify the
// decision round trip.
func ParseToolResultPayload(data []byte) (toolUseID, content string, isError bool, err error) {
	var payload toolResultPayload
	if err = json.Unmarshal(data, &payload); err != nil {
		return "", "", false, err
	}
	if len(payload.Message.Content) == 0 {
		return "", "", false, nil
	}
	block := payload.Message.Content[0]
	return block.ToolUseID, block.Content, block.IsError, nil
}
