package mcpserver

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/lexgraph/retrieval"
)

type RetrieveEvidenceInput struct {
	Query      string `json:"query" jsonschema:"legal question or section reference"`
	WithTrace  bool   `json:"with_trace,omitempty" jsonschema:"include the search trace"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"cap on returned sections"`
}

type RetrieveEvidenceOutput struct {
	Query      string                   `json:"query"`
	Tier       string                   `json:"tier"`
	NoEvidence bool                     `json:"no_evidence"`
	Message    string                   `json:"message,omitempty"`
	Items      []retrieval.EvidenceItem `json:"items"`
	Trace      *retrieval.SearchTrace   `json:"trace,omitempty"`
}

type GraphStatsInput struct{}

type GraphStatsOutput struct {
	Nodes   map[string]int `json:"nodes"`
	Edges   map[string]int `json:"edges"`
	Vectors map[string]int `json:"vectors"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "retrieve_evidence",
		Description: "Retrieve statute sections with their act, citations, roles, obligations and penalties",
	}, s.handleRetrieveEvidence)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "graph_stats",
		Description: "Count graph nodes, edges and indexed vectors",
	}, s.handleGraphStats)
}

func (s *Server) handleRetrieveEvidence(ctx context.Context, req *sdk.CallToolRequest, input RetrieveEvidenceInput) (*sdk.CallToolResult, RetrieveEvidenceOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, RetrieveEvidenceOutput{}, fmt.Errorf("query is required")
	}
	ev, err := s.engine.Query(ctx, query)
	if err != nil {
		return nil, RetrieveEvidenceOutput{}, err
	}

	out := RetrieveEvidenceOutput{
		Query:      ev.Query,
		Tier:       ev.Tier,
		NoEvidence: ev.NoEvidence,
		Message:    ev.Message,
		Items:      ev.Items,
	}
	if out.Items == nil {
		out.Items = []retrieval.EvidenceItem{}
	}
	if input.MaxResults > 0 && len(out.Items) > input.MaxResults {
		out.Items = out.Items[:input.MaxResults]
	}
	if input.WithTrace {
		out.Trace = ev.Trace
	}
	return nil, out, nil
}

func (s *Server) handleGraphStats(ctx context.Context, req *sdk.CallToolRequest, input GraphStatsInput) (*sdk.CallToolResult, GraphStatsOutput, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, GraphStatsOutput{}, err
	}
	out := GraphStatsOutput{Vectors: stats.Vectors}
	if stats.Graph != nil {
		out.Nodes = stats.Graph.Nodes
		out.Edges = stats.Graph.Edges
	}
	return nil, out, nil
}
