package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/source"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the graph from a manifest or a source directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, _ := cmd.Flags().GetString("manifest")
		dir, _ := cmd.Flags().GetString("dir")

		var (
			acts []source.ManifestEntry
			err  error
		)
		switch {
		case manifest != "":
			acts, err = source.LoadManifest(manifest)
		case dir != "":
			acts, err = source.ScanActs(dir)
		default:
			return errors.New("one of --manifest or --dir is required")
		}
		if err != nil {
			return err
		}

		if force, _ := cmd.Flags().GetBool("force"); force {
			cfg.Force = true
		}
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx := cmd.Context()
		report, err := engine.Build(ctx, acts)
		if err != nil {
			return err
		}
		printBuildReport(cmd.OutOrStdout(), report)

		if link, _ := cmd.Flags().GetBool("link"); link {
			stats, err := engine.Link(ctx)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), stats)
		}
		if index, _ := cmd.Flags().GetBool("index"); index {
			stats, err := engine.Index(ctx)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), stats)
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d of %d acts failed", report.Failed, len(report.Acts))
		}
		return nil
	},
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Resolve citations, link terms and roles, and score severity",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		stats, err := engine.Link(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), stats)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed sections, acts and entities into the vector collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		stats, err := engine.Index(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), stats)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count graph nodes, edges and vectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		stats, err := engine.Stats(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	buildCmd.Flags().String("manifest", "", "manifest file (.csv or .xlsx)")
	buildCmd.Flags().String("dir", "", "source tree laid out as <year>/<seq>.pdf")
	buildCmd.Flags().Bool("force", false, "rebuild acts that already completed")
	buildCmd.Flags().Bool("link", false, "run the link passes after building")
	buildCmd.Flags().Bool("index", false, "rebuild the vector index after building")
	rootCmd.AddCommand(buildCmd, linkCmd, indexCmd, statsCmd)
}

func printBuildReport(w io.Writer, r *lexgraph.BuildReport) {
	for _, a := range r.Acts {
		switch {
		case a.Skipped:
			fmt.Fprintf(w, "- %s skipped (already built)\n", a.ActID)
		case a.Error != "":
			fmt.Fprintf(w, "✗ %s: %s\n", a.ActID, a.Error)
		default:
			fmt.Fprintf(w, "✓ %s %q: %d sections, %d written, %d failed, %d enriched\n",
				a.ActID, a.Title, a.Sections, a.Written, a.Failed, a.LLMUsed)
		}
	}
	fmt.Fprintf(w, "run %s: %d built, %d skipped, %d failed in %s\n",
		r.RunID, r.Built, r.Skipped, r.Failed, r.Duration.Round(1e6))
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
