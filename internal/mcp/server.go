// Package mcp hosts the MCP server that exposes the engine to MCP clients:
// state reads, draft processing, and event-log listings as tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/service"
	"github.com/louisbranch/storygate/internal/story/state"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "StoryGate MCP"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
)

// Engine is the MCP server's view of the draft-processing core.
type Engine interface {
	GetState(ctx context.Context, storyID string) (*state.CanonicalState, error)
	ProcessDraft(ctx context.Context, storyID, userMessage, draft string) (service.Outcome, error)
	RecentEvents(ctx context.Context, storyID string, limit, offset int) ([]event.Event, error)
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
}

// New creates a configured MCP server over the engine.
func New(engine Engine) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(mcpServer, StateGetTool(), StateGetHandler(engine))
	mcp.AddTool(mcpServer, DraftProcessTool(), DraftProcessHandler(engine))
	mcp.AddTool(mcpServer, EventsListTool(), EventsListHandler(engine))

	return &Server{mcpServer: mcpServer}, nil
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
