// SPDX-License-Identifier: Apache-2.0

// Package mcp publishes a crew's agent tools over the Model Context Protocol
// so external planners can call the agents directly.
package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/tools"
)

// Server wraps an mcp-go server holding one MCP tool per agent binding.
type Server struct {
	mcpServer *server.MCPServer
	names     []string
	taskID    string
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTaskID scopes conversations of calls without conversation_id to a task.
func WithTaskID(taskID string) Option {
	return func(s *Server) { s.taskID = taskID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server named after the crew's plugin and registers
// every binding of set.
func NewServer(name, version string, set *tools.Set, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	schema := tools.ArgsSchemaJSON()
	for _, b := range set.All() {
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(b.Name, b.Description, schema), s.handler(b))
		s.names = append(s.names, b.Name)
	}
	sort.Strings(s.names)
	return s
}

func (s *Server) handler(b *tools.Binding) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args tools.AskArgs
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		reply, err := b.Invoke(ctx, tools.Invocation{
			Message:        args.Message,
			ConversationID: args.ConversationID,
			TaskID:         s.taskID,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "mcp.tool.failed", slog.String("tool", b.Name), slog.String("error", err.Error()))
			return mcp.NewToolResultError(errors.Message(err)), nil
		}
		s.logger.DebugContext(ctx, "mcp.tool.done", slog.String("tool", b.Name))
		return mcp.NewToolResultText(reply), nil
	}
}

// Tools returns the registered tool names, sorted.
func (s *Server) Tools() []string {
	return append([]string(nil), s.names...)
}

// HandleMessage processes one JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, raw json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, raw)
}

// Serve speaks MCP over in and out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.InfoContext(ctx, "mcp.serve", slog.Int("tools", len(s.names)))
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}
