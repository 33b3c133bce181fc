package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		var (
			out []byte
			err error
		)
		switch format {
		case "yaml", "":
			out, err = cfg.YAML()
		case "toml":
			out, err = cfg.TOML()
		default:
			return fmt.Errorf("unknown format %q (want yaml or toml)", format)
		}
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "yaml or toml")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
