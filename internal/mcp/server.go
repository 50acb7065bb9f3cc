// Package mcp serves the chatbot's tool registry over the Model Context
// Protocol so tools can be exercised outside of WhatsApp conversations.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/chatpilot/internal/bot"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Knowledge answers free-text questions from the knowledge base.
type Knowledge interface {
	Query(ctx context.Context, text string) (string, error)
}

// Server wraps an MCP server exposing bot tools.
type Server struct {
	tools     *bot.ToolRegistry
	knowledge Knowledge
	mcp       *server.MCPServer
}

// NewServer creates an MCP server for every tool in the registry. knowledge
// may be nil; when set a search_knowledge tool is added.
func NewServer(tools *bot.ToolRegistry, knowledge Knowledge) (*Server, error) {
	s := &Server{tools: tools, knowledge: knowledge}

	s.mcp = server.NewMCPServer(
		"chatpilot",
		Version,
		server.WithToolCapabilities(false),
	)

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() error {
	for _, t := range s.tools.Tools() {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("encoding schema for tool %s: %w", t.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, raw), s.toolHandler(t))
	}

	if s.knowledge != nil {
		s.mcp.AddTool(searchKnowledgeTool, s.handleSearchKnowledge)
	}
	return nil
}

var searchKnowledgeTool = mcp.NewTool("search_knowledge",
	mcp.WithDescription("Search the chatbot knowledge base with a natural language question."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language search query"),
	),
)

func (s *Server) toolHandler(t bot.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		raw, _ := json.Marshal(args)

		out, err := t.Run(ctx, bot.Invocation{
			Name:      t.Name,
			Arguments: args,
			RawArgs:   string(raw),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", t.Name, err)), nil
		}
		if out == "" {
			return mcp.NewToolResultText("The tool returned no result."), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func (s *Server) handleSearchKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	content, err := s.knowledge.Query(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if content == "" {
		return mcp.NewToolResultText("No results found. The knowledge base may not be ingested yet. Run `chatpilot ingest` to build it."), nil
	}
	return mcp.NewToolResultText(content), nil
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
