// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the summary archive and background contexts to agents as tools.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/reverie/pkg/bgcontext"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/utils"
)

type Config struct {
	// Archive answers search_summaries. It is usually the vector-indexed
	// archive.
	Archive storage.ArchiveStore

	// Contexts answers background_context.
	Contexts *bgcontext.Builder

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the summary tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "reverie",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Archive == nil {
			return nil, errors.New("archive store is required")
		}
		if c.Contexts == nil {
			return nil, errors.New("context builder is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}
		s.config.Logger = c.Logger.With("component", "mcp")

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        searchToolName,
			Description: searchDescription,
		}, s.handleSearch)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        contextToolName,
			Description: contextDescription,
		}, s.handleContext)
	}

	s.mcpServer = mcpServer
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// textResult serializes structured output into a TextContent block as well,
// for clients that do not read structured content.
func textResult(output any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}
