package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/knowyouranimal/kya/internal/kya/prompt"
	"github.com/spf13/cobra"
)

var withPrompt bool

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the configuration file",
	Long: `Initialize the configuration file with default settings.
The config file will be created at $HOME/.config/kya/config.toml by default.
You can specify a different location using the --config option.

With --prompt, the built-in system prompt is also written to prompt.toml
next to the config file so it can be edited; set prompt_file to use it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		configFile := filepath.Join(home, ".config", "kya", "config.toml")
		if cfgFile != "" {
			configFile = cfgFile
		}

		configDir := filepath.Dir(configFile)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		if _, err := os.Stat(configFile); err == nil {
			return fmt.Errorf("config file already exists at: %s", configFile)
		}

		cfg := config.NewDefaultConfig(configDir)

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}

		if err := os.MkdirAll(cfg.HistoryPath, 0700); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}

		fmt.Printf("Configuration file created at: %s\n", configFile)
		fmt.Printf("History directory created at: %s\n", cfg.HistoryPath)

		if withPrompt {
			promptFile := filepath.Join(configDir, "prompt.toml")
			if err := writePromptFile(promptFile); err != nil {
				return err
			}
			fmt.Printf("Prompt file created at: %s\n", promptFile)
		}
		return nil
	},
}

func writePromptFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("prompt file already exists at: %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create prompt file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(prompt.File{System: prompt.Default}); err != nil {
		return fmt.Errorf("failed to encode prompt file: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&withPrompt, "prompt", false, "Also write the built-in system prompt to prompt.toml")
}
