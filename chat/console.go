package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// Console is a terminal-backed Messenger used when the bridge runs without a
// chat client attached. Status messages print to the writer; approval and
// choice widgets prompt on stdin when it is a TTY, otherwise they fail closed.
type Console struct {
	out    io.Writer
	in     *bufio.Reader
	isTTY  bool
	mu     sync.Mutex
	nextID int
}

// NewConsole creates a Console over stdout/stdin.
func NewConsole() *Console {
	return &Console{
		out:   os.Stdout,
		in:    bufio.NewReader(os.Stdin),
		isTTY: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// SendStatus implements Messenger.
func (c *Console) SendStatus(ctx context.Context, channel, content string) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	handle := Handle(fmt.Sprintf("console-%d", c.nextID))
	fmt.Fprintf(c.out, "[%s] %s\n", channel, content)
	return handle, nil
}

// UpdateStatus implements Messenger. The console cannot edit in place, so
// updates print as fresh lines tagged with the handle.
func (c *Console) UpdateStatus(ctx context.Context, handle Handle, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] %s\n", handle, content)
	return nil
}

// PresentApproval implements Messenger.
func (c *Console) PresentApproval(ctx context.Context, channel, toolName string, input map[string]interface{}) (stream.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rendered, _ := json.Marshal(input)
	fmt.Fprintf(c.out, "[%s] approval requested: %s %s\n", channel, toolName, rendered)

	if !c.isTTY {
		return stream.Decision{Behavior: "deny", Message: "no interactive approver"}, nil
	}

	fmt.Fprint(c.out, "allow? [y/N] ")
	answer, err := c.readLine(ctx)
	if err != nil {
		return stream.Decision{}, err
	}
	if strings.EqualFold(strings.TrimSpace(answer), "y") {
		return stream.Decision{Behavior: "allow"}, nil
	}
	return stream.Decision{Behavior: "deny", Message: "denied at console"}, nil
}

// PresentChoice implements Messenger.
func (c *Console) PresentChoice(ctx context.Context, channel string, q Question) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "[%s] %s\n", channel, q.Question)
	for i, opt := range q.Options {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, opt.Label)
	}

	if !c.isTTY || len(q.Options) == 0 {
		if len(q.Options) > 0 {
			return q.Options[0].Label, nil
		}
		return "", nil
	}

	fmt.Fprint(c.out, "choice: ")
	answer, err := c.readLine(ctx)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	for i, opt := range q.Options {
		if answer == fmt.Sprintf("%d", i+1) || strings.EqualFold(answer, opt.Label) {
			return opt.Label, nil
		}
	}
	// Anything else is free text for "other".
	return answer, nil
}

// readLine reads one line from stdin, honoring context cancellation.
func (c *Console) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && r.line == "" {
			return "", r.err
		}
		return r.line, nil
	}
}

var _ Messenger = (*Console)(nil)
