package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
)

var version = "dev"

var cfg lexgraph.Config

var rootCmd = &cobra.Command{
	Use:           "lexgraph",
	Short:         "Legal knowledge graph builder and evidence retriever",
	Long:          "lexgraph turns statute PDFs into a property graph of acts, sections, roles and duties, and retrieves cited evidence for legal questions.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("backend", "", "graph backend: sqlite or neo4j")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
}

// initConfig layers flags over LoadConfig and installs the logger.
func initConfig(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := lexgraph.LoadConfig(path)
	if err != nil {
		return err
	}
	cfg = loaded

	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.GraphBackend = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if asJSON, _ := cmd.Flags().GetBool("log-json"); asJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func openEngine() (lexgraph.Engine, error) {
	engine, err := lexgraph.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	return engine, nil
}
