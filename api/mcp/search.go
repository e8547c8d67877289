package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/utils"
)

const previewChars = 280

var (
	searchToolName    = "search_summaries"
	searchDescription = "Search an agent's conversation summaries. Returns the most relevant summaries of one kind (session, daily, weekly or topic) with their time period, topics and entities."
)

// SearchInput represents the input arguments for the search tool.
type SearchInput struct {
	AgentID string `json:"agent_id" jsonschema:"the agent whose summaries are searched"`
	Query   string `json:"query" jsonschema:"the search query text"`
	Kind    string `json:"kind,omitempty" jsonschema:"summary kind: session, daily, weekly or topic (default: session)"`
	TopK    int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
}

// SearchResult is one matching summary.
type SearchResult struct {
	ID          string   `json:"summary_id"`
	Kind        string   `json:"kind"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
	Preview     string   `json:"preview"`
	Topics      []string `json:"topics"`
	Entities    []string `json:"entities"`
}

// SearchOutput represents the output of the search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	if input.AgentID == "" {
		return toolError("agent_id is required"), SearchOutput{}, nil
	}

	kind := memory.KindSession
	if input.Kind != "" {
		k, err := memory.ParseKind(input.Kind)
		if err != nil {
			return toolError("%v", err), SearchOutput{}, nil
		}
		kind = k
	}

	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("MCP search request",
		"agent_id", input.AgentID,
		"query", input.Query,
		"kind", kind,
		"top_k", topK,
	)

	summaries, err := s.config.Archive.Search(ctx, storage.SearchQuery{
		AgentID: input.AgentID,
		Kind:    kind,
		Text:    input.Query,
		Limit:   topK,
	})
	if err != nil {
		logger.Error("summary search failed", "agent_id", input.AgentID, "error", err)
		return toolError("Failed to search summaries: %v", err), SearchOutput{}, nil
	}

	results := make([]SearchResult, 0, len(summaries))
	for i := range summaries {
		results = append(results, buildSearchResult(&summaries[i]))
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: results,
		Count:   len(results),
	}

	res, err := textResult(output)
	if err != nil {
		return toolError("Failed to serialize results: %v", err), SearchOutput{}, nil
	}
	return res, output, nil
}

func buildSearchResult(sum *memory.Summary) SearchResult {
	return SearchResult{
		ID:          sum.ID,
		Kind:        sum.Kind.String(),
		PeriodStart: sum.PeriodStart.UTC().Format(timeFormat),
		PeriodEnd:   sum.PeriodEnd.UTC().Format(timeFormat),
		Preview:     utils.Truncate(sum.Body, previewChars),
		Topics:      sum.Topics,
		Entities:    sum.Entities,
	}
}
