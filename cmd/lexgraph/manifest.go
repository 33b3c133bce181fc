package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph/source"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest <dir>",
	Short: "Scan a <year>/<seq>.pdf tree and write a manifest CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := source.ScanActs(args[0])
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating manifest: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := source.WriteManifest(w, entries); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d acts\n", len(entries))
		return nil
	},
}

func init() {
	manifestCmd.Flags().StringP("output", "o", "", "write the manifest to a file instead of stdout")
	rootCmd.AddCommand(manifestCmd)
}
