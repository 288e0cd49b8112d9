package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wrathagom/ai-discord-bot/internal/ndjson"
)

const protocolVersion = "2024-11-05"

// Server speaks JSON-RPC 2.0 over line-delimited stdio, handling the MCP
// initialize/tools handshake and dispatching tool calls to its handler.
type Server struct {
	name    string
	version string
	handler ToolHandler
	log     *slog.Logger

	writeMu sync.Mutex
}

// NewServer creates a Server identifying itself as name.
func NewServer(name string, handler ToolHandler, log *slog.Logger) *Server {
	return &Server{name: name, version: "1.0.0", handler: handler, log: log}
}

// Serve processes requests from in until EOF or ctx cancellation. Malformed
// lines and unknown methods produce JSON-RPC errors, never a crash; only an
// unreadable transport ends the loop early.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := ndjson.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(out, nil, codeParseError, "parse error")
			continue
		}
		s.dispatch(ctx, out, req)
	}
}

func (s *Server) dispatch(ctx context.Context, out io.Writer, req Request) {
	switch req.Method {
	case "initialize":
		s.writeResult(out, req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			ServerInfo:      ServerInfo{Name: s.name, Version: s.version},
		})

	case "notifications/initialized":
		// Notification; no response.

	case "tools/list":
		s.writeResult(out, req.ID, ToolsListResult{Tools: s.handler.Tools()})

	case "tools/call":
		var params ToolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(out, req.ID, codeInvalidParams, "invalid tools/call params")
			return
		}
		s.log.Debug("tool call", "tool", params.Name)
		result, err := s.handler.HandleToolCall(ctx, params.Name, params.Arguments)
		if err != nil {
			s.writeError(out, req.ID, codeInternalError, err.Error())
			return
		}
		s.writeResult(out, req.ID, result)

	default:
		if req.ID == nil {
			return // unknown notification, ignore
		}
		s.writeError(out, req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) writeResult(out io.Writer, id, result interface{}) {
	s.write(out, Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(out io.Writer, id interface{}, code int, message string) {
	s.write(out, Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}})
}

func (s *Server) write(out io.Writer, resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		s.log.Warn("response write failed", "error", err)
	}
}
