// Package chat defines the consumed chat-surface interface. The bridge never
// touches the surface's transport directly; it creates and edits status
// messages and presents approval/choice widgets only through Messenger. The
// real Discord client lives outside this repository; a console implementation
// and a test recorder are provided here.
package chat

import (
	"context"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// Handle identifies a status message so later events can update it in place.
type Handle string

// Question is an open question presented through a choice widget.
type Question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header,omitempty"`
	Options     []Option `json:"options"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
}

// Option is one selectable answer.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Messenger is the chat-surface collaborator. All widget calls are bounded by
// the caller's context; implementations must return when it is cancelled.
type Messenger interface {
	// SendStatus creates a status message in the channel and returns its handle.
	SendStatus(ctx context.Context, channel, content string) (Handle, error)

	// UpdateStatus edits a previously created status message.
	UpdateStatus(ctx context.Context, handle Handle, content string) error

	// PresentApproval shows an approval widget for a tool call and waits for
	// the human decision.
	PresentApproval(ctx context.Context, channel, toolName string, input map[string]interface{}) (stream.Decision, error)

	// PresentChoice shows a choice widget for an open question and waits for
	// the selected answer (or free text for "other").
	PresentChoice(ctx context.Context, channel string, q Question) (string, error)
}
