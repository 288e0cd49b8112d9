package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wrathagom/ai-discord-bot/stream"
)

// Client talks to the relay server from the provider side. It holds no state
// beyond its target; every invocation is one request, one response.
type Client struct {
	// BaseURL is the relay server root, e.g. "http://127.0.0.1:8377".
	BaseURL string
	// Channel tags every request with its originating channel.
	Channel string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	// The server holds the request open for the whole human decision window;
	// the client must not time out underneath it.
	return &http.Client{Timeout: 15 * time.Minute}
}

// Approve posts one approval request and returns the decision. Any transport
// or decode failure denies fail-closed.
func (c *Client) Approve(ctx context.Context, req ApproveRequest) (stream.Decision, error) {
	var d stream.Decision
	if err := c.post(ctx, "/approve", req, &d); err != nil {
		return stream.Decision{Behavior: "deny", Message: "approval relay unavailable"}, err
	}
	return d, nil
}

// Ask posts questions and returns the answers keyed by question text.
func (c *Client) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	var resp AskResponse
	if err := c.post(ctx, "/ask-question", req, &resp); err != nil {
		return AskResponse{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ChannelHeader, c.Channel)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Run executes one relay round trip over stdio: a single JSON approval
// request is read from in, posted, and the decision written to out as one
// JSON line. This is the entrypoint for the `relay` subcommand the provider
// CLI shells out to.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	var req ApproveRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("read approval request: %w", err)
	}

	d, err := c.Approve(ctx, req)
	if err != nil {
		// The provider still needs a well-formed decision on stdout; the
		// fail-closed denial is written before the error is reported.
		_ = json.NewEncoder(out).Encode(d)
		return err
	}
	return json.NewEncoder(out).Encode(d)
}
