package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/store"
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Retrieve evidence sections for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ev, err := engine.Query(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		if trace, _ := cmd.Flags().GetBool("trace"); !trace {
			ev.Trace = nil
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(cmd.OutOrStdout(), ev)
			return nil
		}
		printEvidence(cmd.OutOrStdout(), ev)
		return nil
	},
}

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Show the most recent queries from the query log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := engine.RecentQueries(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(cmd.OutOrStdout(), entries)
			return nil
		}
		printQueries(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	queryCmd.Flags().Bool("json", false, "print the evidence as JSON")
	queryCmd.Flags().Bool("trace", false, "include the search trace")
	queriesCmd.Flags().Int("limit", 20, "number of entries to show")
	queriesCmd.Flags().Bool("json", false, "print the entries as JSON")
	rootCmd.AddCommand(queryCmd, queriesCmd)
}

func printQueries(w io.Writer, entries []store.QueryLog) {
	for _, q := range entries {
		tier := q.Tier
		if q.NoEvidence {
			tier = "none"
		}
		fmt.Fprintf(w, "%-9s %5dms %2d sections  %s\n", tier, q.DurationMs, len(q.SectionIDs), q.Query)
	}
}

func printEvidence(w io.Writer, ev *retrieval.Evidence) {
	if ev.NoEvidence {
		fmt.Fprintln(w, ev.Message)
		return
	}
	fmt.Fprintf(w, "%d sections (tier: %s)\n\n", len(ev.Items), ev.Tier)
	for i, it := range ev.Items {
		fmt.Fprintf(w, "%d. %s", i+1, it.Citation)
		if it.Heading != "" {
			fmt.Fprintf(w, " | %s", it.Heading)
		}
		fmt.Fprintln(w)
		if it.Summary != "" {
			fmt.Fprintf(w, "   %s\n", it.Summary)
		}
		fmt.Fprintf(w, "   %s\n", retrieval.Trim(it.Text, 300))
		if len(it.Roles) > 0 {
			fmt.Fprintf(w, "   roles: %s\n", strings.Join(it.Roles, ", "))
		}
		for _, c := range it.Cited {
			fmt.Fprintf(w, "   cites: %s\n", c.Citation)
		}
		if it.Severity > 0 {
			fmt.Fprintf(w, "   severity: %d\n", it.Severity)
		}
		fmt.Fprintln(w)
	}
	if ev.Trace != nil {
		printJSON(w, ev.Trace)
	}
}
