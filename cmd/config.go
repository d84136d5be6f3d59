package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config [field]",
	Short: "Display current configuration",
	Long: `Display the current configuration values.
This command shows all configuration values loaded from the config file and environment variables.

If a field name is specified, only that field's value is displayed.
Tokens are masked.

Examples:
  kya config                    # Show all configuration
  kya config chat_url           # Show only the chat endpoint
  kya config history_backend    # Show only the history backend
  kya config configfile         # Show the config file in use`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fields := configFields(cfg)
		if len(args) > 0 {
			name := strings.ToLower(args[0])
			for _, f := range fields {
				if f.name == name || strings.ReplaceAll(f.name, "_", "") == name {
					fmt.Println(f.value)
					return nil
				}
			}
			names := make([]string, 0, len(fields))
			for _, f := range fields {
				names = append(names, f.name)
			}
			return fmt.Errorf("unknown field: %s\nAvailable fields: %s", args[0], strings.Join(names, ", "))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, f := range fields {
			fmt.Fprintf(w, "%s:\t%s\n", f.name, f.value)
		}
		return w.Flush()
	},
}

type configField struct {
	name  string
	value string
}

func configFields(cfg *config.Config) []configField {
	return []configField{
		{"configfile", viper.ConfigFileUsed()},
		{"chat_url", cfg.ChatURL},
		{"chat_token", maskToken(cfg.ChatToken)},
		{"upstream_base_url", cfg.UpstreamBaseURL},
		{"upstream_token", maskToken(cfg.UpstreamToken)},
		{"model", cfg.Model},
		{"prompt_file", cfg.PromptFile},
		{"listen_addr", cfg.ListenAddr},
		{"rate_limit", fmt.Sprint(cfg.RateLimit)},
		{"rate_burst", fmt.Sprint(cfg.RateBurst)},
		{"history_backend", cfg.HistoryBackend},
		{"history_path", cfg.HistoryPath},
		{"history_key", cfg.HistoryKey},
		{"dynamodb_table", cfg.DynamoDBTable},
		{"api_base_url", cfg.APIBaseURL},
		{"overpass_url", cfg.OverpassURL},
		{"vets_radius", fmt.Sprint(cfg.VetsRadius)},
		{"language", cfg.Language},
	}
}

// maskToken returns a masked version of the token for security.
// Parameter store references are not secret and are shown as is.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, "ssm:") {
		return token
	}
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func init() {
	rootCmd.AddCommand(configCmd)
}
