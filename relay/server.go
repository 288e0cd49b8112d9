// Package relay carries approval traffic between provider-side hooks and the
// bridge. Provider CLIs cannot reach the chat surface themselves; a small
// relay command shells out from the provider side, POSTs the request to the
// bridge's relay server, and prints the decision back for the provider to
// consume.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wrathagom/ai-discord-bot/approval"
	"github.com/wrathagom/ai-discord-bot/chat"
)

// ChannelHeader names the channel an approval request belongs to.
const ChannelHeader = "X-Bridge-Channel"

// ApproveRequest is the relay's approval request body.
type ApproveRequest struct {
	Input    map[string]interface{} `json:"input"`
	ToolName string                 `json:"tool_name"`
	Context  string                 `json:"context,omitempty"`
	Plan     bool                   `json:"plan,omitempty"`
}

// AskRequest is the relay's question request body.
type AskRequest struct {
	Questions []chat.Question `json:"questions"`
}

// AskResponse maps question text to the selected answer.
type AskResponse struct {
	Answers map[string]string `json:"answers"`
}

// Server is the bridge-side relay listener.
type Server struct {
	approvals *approval.Manager
	log       *slog.Logger
	addr      string
}

// NewServer creates a relay server brokering through approvals.
func NewServer(addr string, approvals *approval.Manager, log *slog.Logger) *Server {
	return &Server{addr: addr, approvals: approvals, log: log}
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/approve", s.handleApprove)
	r.Post("/ask-question", s.handleAskQuestion)

	return r
}

// Start serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("relay listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleApprove blocks until the approval resolves and returns the decision.
// The request context covers the wait; a relay client that hangs up gets a
// denial rather than leaving the interaction dangling.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	channel := r.Header.Get(ChannelHeader)
	if channel == "" {
		http.Error(w, "missing "+ChannelHeader+" header", http.StatusBadRequest)
		return
	}

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.ToolName == "" {
		http.Error(w, "tool_name is required", http.StatusBadRequest)
		return
	}

	s.log.Info("relay approval requested", "channel", channel, "tool", req.ToolName)
	d := s.approvals.RequestApproval(r.Context(), approval.Request{
		Channel:  channel,
		ToolName: req.ToolName,
		Input:    req.Input,
		Plan:     req.Plan,
	})
	writeJSON(w, d)
}

func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	channel := r.Header.Get(ChannelHeader)
	if channel == "" {
		http.Error(w, "missing "+ChannelHeader+" header", http.StatusBadRequest)
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if len(req.Questions) == 0 {
		http.Error(w, "questions are required", http.StatusBadRequest)
		return
	}

	answers := s.approvals.AskQuestions(r.Context(), channel, req.Questions)
	writeJSON(w, AskResponse{Answers: answers})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
