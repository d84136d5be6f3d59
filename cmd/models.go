/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/spf13/cobra"
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by the upstream endpoint",
	Long: `List all models offered by the upstream completion endpoint.
Fetches the latest model information directly from the upstream API using
upstream_base_url and upstream_token.

Example:
  kya models`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		client, err := newUpstream(cmd.Context(), cfg, false)
		if err != nil {
			return fmt.Errorf("creating upstream client: %w", err)
		}

		if verbose {
			fmt.Fprintf(os.Stderr, "Listing models from: %s\n", cfg.UpstreamBaseURL)
		}

		models, err := client.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}
		if len(models) == 0 {
			return fmt.Errorf("no models returned from API")
		}

		maxModelWidth := 15
		for _, m := range models {
			if len(m.ID) > maxModelWidth {
				maxModelWidth = len(m.ID)
			}
		}

		fmt.Printf("%-*s  %-10s  %s\n", maxModelWidth, "MODEL", "DEFAULT", "OWNED BY")
		fmt.Printf("%s  %s  %s\n",
			strings.Repeat("-", maxModelWidth),
			strings.Repeat("-", 10),
			strings.Repeat("-", 20))
		for _, m := range models {
			defaultMark := ""
			if m.ID == cfg.Model || strings.TrimPrefix(m.ID, "models/") == cfg.Model {
				defaultMark = "Yes"
			}
			fmt.Printf("%-*s  %-10s  %s\n", maxModelWidth, m.ID, defaultMark, m.OwnedBy)
		}

		fmt.Printf("\nUse a model with: kya chat --direct --model <model> [message]\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
