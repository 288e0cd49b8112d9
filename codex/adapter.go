// Package codex adapts the Codex CLI's exec --json output onto the canonical
// event model. The schema is flatter than Claude's: a session-start record
// carries the thread id directly, item.started/item.completed records open
// and close tool calls without a wrapping assistant message, and the
// turn.completed record carries token usage instead of a dollar cost with no
// explicit success flag (absence of a failure record is success).
package codex

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// ProviderName identifies this adapter.
const ProviderName = "codex"

const summaryLimit = 200

// Adapter parses Codex exec --json lines into canonical events. It keeps a
// per-run turn counter, so use one Adapter value per spawned process.
type Adapter struct {
	// CLIPath overrides the provider binary ("codex" when empty).
	CLIPath string

	turns int
}

// Name identifies the provider.
func (a *Adapter) Name() string { return ProviderName }

// execRecord is the superset of fields across Codex's exec event types.
type execRecord struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Item     *item  `json:"item"`
	Usage    *usage `json:"usage"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

type item struct {
	ID               string       `json:"id"`
	ItemType         string       `json:"item_type"`
	Text             string       `json:"text"`
	Command          string       `json:"command"`
	AggregatedOutput string       `json:"aggregated_output"`
	ExitCode         *int         `json:"exit_code"`
	Changes          []fileChange `json:"changes"`
}

type fileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type usage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

// ParseLine maps one stdout line onto zero or more canonical events.
func (a *Adapter) ParseLine(line []byte) []stream.Event {
	var rec execRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return []stream.Event{stream.Malformed{Line: string(line)}}
	}

	switch rec.Type {
	case "thread.started":
		return []stream.Event{stream.SessionStarted{SessionID: rec.ThreadID}}

	case "turn.started":
		a.turns++
		return nil

	case "item.started":
		if rec.Item == nil || rec.Item.ItemType != "command_execution" {
			return nil
		}
		return []stream.Event{stream.ToolInvoked{
			ID:    rec.Item.ID,
			Name:  "command_execution",
			Input: map[string]interface{}{"command": rec.Item.Command},
		}}

	case "item.completed":
		return a.parseItemCompleted(rec.Item)

	case "turn.completed":
		return []stream.Event{stream.TurnCompleted{
			Turns:   a.turns,
			Usage:   usageSummary(rec.Usage),
			Success: true,
		}}

	case "turn.failed":
		msg := "turn failed"
		if rec.Error != nil && rec.Error.Message != "" {
			msg = rec.Error.Message
		}
		return []stream.Event{stream.TurnCompleted{
			Turns:   a.turns,
			Result:  msg,
			Success: false,
		}}

	case "error":
		return []stream.Event{stream.Warning{Text: rec.Message}}
	}

	return nil
}

func (a *Adapter) parseItemCompleted(it *item) []stream.Event {
	if it == nil {
		return nil
	}

	switch it.ItemType {
	case "agent_message", "reasoning":
		if strings.TrimSpace(it.Text) == "" {
			return nil
		}
		return []stream.Event{stream.AssistantText{Text: it.Text}}

	case "command_execution":
		exitCode := 0
		if it.ExitCode != nil {
			exitCode = *it.ExitCode
		}
		summary := stream.FirstLine(it.AggregatedOutput, summaryLimit)
		if summary == "" {
			summary = fmt.Sprintf("exit %d", exitCode)
		}
		return []stream.Event{stream.ToolResult{
			InvocationID: it.ID,
			Summary:      summary,
			IsError:      exitCode != 0,
		}}

	case "file_change":
		// File changes have no started record; the result renders standalone.
		return []stream.Event{stream.ToolResult{
			InvocationID: it.ID,
			Summary:      changeSummary(it.Changes),
		}}
	}

	return nil
}

func changeSummary(changes []fileChange) string {
	if len(changes) == 0 {
		return "no file changes"
	}
	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		paths = append(paths, c.Path)
	}
	return fmt.Sprintf("changed %d file(s): %s", len(changes), stream.FirstLine(strings.Join(paths, ", "), summaryLimit))
}

func usageSummary(u *usage) string {
	if u == nil {
		return ""
	}
	return fmt.Sprintf("%d in / %d out tokens", u.InputTokens+u.CachedInputTokens, u.OutputTokens)
}
