// Package chattest provides a Messenger test double that records every
// status message and widget call and replays scripted decisions.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/wrathagom/ai-discord-bot/chat"
	"github.com/wrathagom/ai-discord-bot/stream"
)

// Message is one recorded status message and its edit history.
type Message struct {
	Channel string
	Content []string // index 0 is the original send, later entries are edits
}

// ApprovalCall is one recorded approval widget invocation.
type ApprovalCall struct {
	Channel  string
	ToolName string
	Input    map[string]interface{}
}

// Recorder implements chat.Messenger for tests.
type Recorder struct {
	mu        sync.Mutex
	nextID    int
	messages  map[chat.Handle]*Message
	order     []chat.Handle
	approvals []ApprovalCall

	// Decisions is consumed one per PresentApproval call. When empty the
	// call blocks until the context is done (simulating no human response).
	Decisions chan stream.Decision

	// Answers is consumed one per PresentChoice call, with the same
	// blocking behavior when empty.
	Answers chan string
}

// NewRecorder creates a Recorder with buffered decision queues.
func NewRecorder() *Recorder {
	return &Recorder{
		messages:  make(map[chat.Handle]*Message),
		Decisions: make(chan stream.Decision, 16),
		Answers:   make(chan string, 16),
	}
}

// SendStatus implements chat.Messenger.
func (r *Recorder) SendStatus(ctx context.Context, channel, content string) (chat.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	handle := chat.Handle(fmt.Sprintf("msg-%d", r.nextID))
	r.messages[handle] = &Message{Channel: channel, Content: []string{content}}
	r.order = append(r.order, handle)
	return handle, nil
}

// UpdateStatus implements chat.Messenger.
func (r *Recorder) UpdateStatus(ctx context.Context, handle chat.Handle, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[handle]
	if !ok {
		return fmt.Errorf("unknown message handle %q", handle)
	}
	msg.Content = append(msg.Content, content)
	return nil
}

// PresentApproval implements chat.Messenger.
func (r *Recorder) PresentApproval(ctx context.Context, channel, toolName string, input map[string]interface{}) (stream.Decision, error) {
	r.mu.Lock()
	r.approvals = append(r.approvals, ApprovalCall{Channel: channel, ToolName: toolName, Input: input})
	r.mu.Unlock()

	select {
	case d := <-r.Decisions:
		return d, nil
	case <-ctx.Done():
		return stream.Decision{}, ctx.Err()
	}
}

// PresentChoice implements chat.Messenger.
func (r *Recorder) PresentChoice(ctx context.Context, channel string, q chat.Question) (string, error) {
	select {
	case a := <-r.Answers:
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Messages returns recorded messages in send order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, *r.messages[h])
	}
	return out
}

// Approvals returns recorded approval widget calls.
func (r *Recorder) Approvals() []ApprovalCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ApprovalCall(nil), r.approvals...)
}

// LastContent returns the latest content of the message at send index i.
func (r *Recorder) LastContent(i int) string {
	msgs := r.Messages()
	if i < 0 || i >= len(msgs) {
		return ""
	}
	return msgs[i].Content[len(msgs[i].Content)-1]
}

var _ chat.Messenger = (*Recorder)(nil)
