/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/knowyouranimal/kya/internal/kya/prompt"
	"github.com/spf13/cobra"
)

var (
	promptVars []string
	promptRaw  bool
)

// promptCmd represents the prompt command
var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Show the assistant's system prompt",
	Long: `Show the system prompt sent ahead of every conversation.

The built-in veterinary prompt is used unless prompt_file points to a TOML file
with the following structure:
system = "System prompt with optional {{language}} placeholder"

Placeholders are filled in from the configured language. Use --var to set
or override placeholder values, and --raw to show the template unexpanded.

Examples:
  kya prompt
  kya prompt --var language:Marathi
  kya prompt --raw`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if verbose {
			source := cfg.PromptFile
			if source == "" {
				source = "built-in"
			}
			fmt.Fprintf(os.Stderr, "Prompt source: %s\n", source)
		}

		if promptRaw {
			text, err := prompt.System(cfg.PromptFile)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		}

		vars, err := prompt.ParseVars(promptVars)
		if err != nil {
			return err
		}
		text, err := systemPrompt(cfg, vars)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().StringArrayVar(&promptVars, "var", []string{}, "Placeholder values (format: key:value)")
	promptCmd.Flags().BoolVar(&promptRaw, "raw", false, "Show the template without filling in placeholders")
}
