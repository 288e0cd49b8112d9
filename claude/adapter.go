// Package claude adapts the Claude Code CLI's stream-json output onto the
// canonical event model. The schema is rich: records are tagged with a
// message role, assistant records interleave free text with tool_use blocks,
// a later user record carries tool_result blocks referencing the tool_use id,
// and a terminal result record carries success, turn count, and dollar cost.
package claude

import (
	"encoding/json"
	"strings"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// ProviderName identifies this adapter.
const ProviderName = "claude"

// summaryLimit bounds tool-result summaries for display.
const summaryLimit = 200

// Adapter parses Claude Code stream-json lines into canonical events.
type Adapter struct {
	// CLIPath overrides the provider binary ("claude" when empty).
	CLIPath string
}

// Name identifies the provider.
func (a *Adapter) Name() string { return ProviderName }

// streamRecord is the superset of fields across Claude's stream-json record
// types. Only the fields relevant to bridging are decoded.
type streamRecord struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`

	// system/init fields
	CWD   string   `json:"cwd"`
	Model string   `json:"model"`
	Tools []string `json:"tools"`

	// assistant/user message body
	Message struct {
		Role    string         `json:"role"`
		Content []contentBlock `json:"content"`
	} `json:"message"`

	// control_request fields (permission prompts in stream-json input mode)
	RequestID string `json:"request_id"`
	Request   struct {
		Subtype  string          `json:"subtype"`
		ToolName string          `json:"tool_name"`
		Input    json.RawMessage `json:"input"`
	} `json:"request"`

	// result fields
	IsError      bool    `json:"is_error"`
	NumTurns     int     `json:"num_turns"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Result       string  `json:"result"`
	Error        string  `json:"error"`
}

// contentBlock is one element of a message's content array.
type contentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	// Some CLI versions emit the camelCase variant.
	ToolUseIDAlt string          `json:"toolUseId,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	IsError      *bool           `json:"is_error,omitempty"`
}

func (b contentBlock) toolUseID() string {
	if b.ToolUseID != "" {
		return b.ToolUseID
	}
	return b.ToolUseIDAlt
}

// ParseLine maps one stdout line onto zero or more canonical events.
func (a *Adapter) ParseLine(line []byte) []stream.Event {
	var rec streamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return []stream.Event{stream.Malformed{Line: string(line)}}
	}

	switch rec.Type {
	case "system":
		if rec.Subtype != "init" {
			return nil
		}
		return []stream.Event{stream.SessionStarted{
			SessionID: rec.SessionID,
			WorkDir:   rec.CWD,
			Model:     rec.Model,
			Tools:     rec.Tools,
		}}

	case "assistant":
		return a.parseAssistant(rec)

	case "user":
		return a.parseUser(rec)

	case "control_request":
		if rec.Request.Subtype != "can_use_tool" {
			return nil
		}
		return []stream.Event{stream.PermissionRequested{
			InvocationID: rec.RequestID,
			ToolName:     rec.Request.ToolName,
			Input:        stream.DecodeInput(rec.Request.Input),
		}}

	case "result":
		cost := rec.TotalCostUSD
		result := rec.Result
		if result == "" {
			result = rec.Error
		}
		return []stream.Event{stream.TurnCompleted{
			Turns:   rec.NumTurns,
			CostUSD: &cost,
			Result:  result,
			Success: !rec.IsError,
		}}
	}

	// Well-formed record of a type this bridge does not surface.
	return nil
}

func (a *Adapter) parseAssistant(rec streamRecord) []stream.Event {
	var events []stream.Event
	for _, block := range rec.Message.Content {
		switch block.Type {
		case "text":
			if strings.TrimSpace(block.Text) != "" {
				events = append(events, stream.AssistantText{Text: block.Text})
			}
		case "tool_use":
			events = append(events, stream.ToolInvoked{
				ID:    block.ID,
				Name:  block.Name,
				Input: stream.DecodeInput(block.Input),
			})
		}
	}
	return events
}

func (a *Adapter) parseUser(rec streamRecord) []stream.Event {
	var events []stream.Event
	for _, block := range rec.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		isError := block.IsError != nil && *block.IsError
		events = append(events, stream.ToolResult{
			InvocationID: block.toolUseID(),
			Summary:      stream.FirstLine(resultText(block.Content), summaryLimit),
			IsError:      isError,
		})
	}
	return events
}

// resultText extracts display text from a tool_result content field, which
// the CLI emits either as a plain string or as an array of text blocks.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}

	return string(raw)
}
