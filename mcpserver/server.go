// Package mcpserver exposes evidence retrieval as MCP tools.
package mcpserver

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/retrieval"
)

// Engine is the part of lexgraph.Engine the tools call.
type Engine interface {
	Query(ctx context.Context, question string) (*retrieval.Evidence, error)
	Stats(ctx context.Context) (*lexgraph.Stats, error)
}

type Server struct {
	engine Engine
	mcp    *sdk.Server
}

func NewServer(engine Engine, version string) *Server {
	s := &Server{
		engine: engine,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "lexgraph",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
