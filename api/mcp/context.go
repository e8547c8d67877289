package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const timeFormat = time.RFC3339

var (
	contextToolName    = "background_context"
	contextDescription = "Return an agent's current background context: its most recent session summary, active topics and persistent facts, as a short text block."
)

// ContextInput represents the input arguments for the background_context tool.
type ContextInput struct {
	AgentID string `json:"agent_id" jsonschema:"the agent whose background context is returned"`
}

// ContextOutput is the last published background context.
type ContextOutput struct {
	AgentID     string `json:"agent_id"`
	Text        string `json:"text"`
	LastUpdated string `json:"last_updated,omitempty"`
	Available   bool   `json:"available"`
}

// handleContext reads the cached context only; it never triggers a refresh.
func (s *Server) handleContext(_ context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, ContextOutput, error) {
	if input.AgentID == "" {
		return toolError("agent_id is required"), ContextOutput{}, nil
	}

	output := ContextOutput{AgentID: input.AgentID}
	if snap, ok := s.config.Contexts.Get(input.AgentID); ok {
		output.Text = snap.Text
		output.LastUpdated = snap.Context.LastUpdated.UTC().Format(timeFormat)
		output.Available = true
	}

	res, err := textResult(output)
	if err != nil {
		return toolError("Failed to serialize context: %v", err), ContextOutput{}, nil
	}
	return res, output, nil
}
