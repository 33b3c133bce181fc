package main

import (
	"github.com/spf13/cobra"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/lexgraph/mcpserver"
)

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Serve evidence retrieval as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		server := mcpserver.NewServer(engine, version)
		return server.Run(cmd.Context(), &sdk.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(serveMCPCmd)
}
