/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile string
	verbose bool
	logger  = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kya",
	Short: "Know Your Animal: livestock health assistant",
	Long: `kya is the command-line client for Know Your Animal.
Chat with the veterinary assistant, keep a history of conversations,
browse the animal and disease catalog and find nearby veterinary clinics.
You can configure the tool using a TOML configuration file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/kya/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("KYA")
	viper.AutomaticEnv()

	home, err := os.UserHomeDir()
	cobra.CheckErr(err)
	userConfigDir := filepath.Join(home, ".config", "kya")

	defaultConfig := config.NewDefaultConfig(userConfigDir)
	viper.SetDefault("chat_url", defaultConfig.ChatURL)
	viper.SetDefault("chat_token", defaultConfig.ChatToken)
	viper.SetDefault("upstream_base_url", defaultConfig.UpstreamBaseURL)
	viper.SetDefault("upstream_token", defaultConfig.UpstreamToken)
	viper.SetDefault("model", defaultConfig.Model)
	viper.SetDefault("prompt_file", defaultConfig.PromptFile)
	viper.SetDefault("listen_addr", defaultConfig.ListenAddr)
	viper.SetDefault("rate_limit", defaultConfig.RateLimit)
	viper.SetDefault("rate_burst", defaultConfig.RateBurst)
	viper.SetDefault("history_backend", defaultConfig.HistoryBackend)
	viper.SetDefault("history_path", defaultConfig.HistoryPath)
	viper.SetDefault("history_key", defaultConfig.HistoryKey)
	viper.SetDefault("dynamodb_table", defaultConfig.DynamoDBTable)
	viper.SetDefault("api_base_url", defaultConfig.APIBaseURL)
	viper.SetDefault("overpass_url", defaultConfig.OverpassURL)
	viper.SetDefault("vets_radius", defaultConfig.VetsRadius)
	viper.SetDefault("language", defaultConfig.Language)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else {
		// Load system-wide config first (lower priority)
		systemConfigPaths := []string{
			"/etc/kya",
			"/usr/local/etc/kya",
		}

		systemConfigLoaded := false
		for _, path := range systemConfigPaths {
			viper.AddConfigPath(path)
		}
		viper.SetConfigType("toml")
		viper.SetConfigName("config")

		if err := viper.ReadInConfig(); err == nil {
			systemConfigLoaded = true
			if verbose {
				fmt.Fprintln(os.Stderr, "Loaded system-wide config:", viper.ConfigFileUsed())
			}
		}

		// User config merges on top of the system config
		viper.AddConfigPath(userConfigDir)
		if systemConfigLoaded {
			if err := viper.MergeInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					fmt.Fprintf(os.Stderr, "Error merging user config file: %v\n", err)
				}
			} else if verbose {
				fmt.Fprintln(os.Stderr, "Merged user config:", viper.ConfigFileUsed())
			}
		} else {
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
				}
			}
		}
	}

	if verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		fmt.Fprintln(os.Stderr, "Environment variables:")
		fmt.Fprintln(os.Stderr, "  KYA_CHAT_URL:", viper.GetString("chat_url"))
		fmt.Fprintln(os.Stderr, "  KYA_MODEL:", viper.GetString("model"))
		fmt.Fprintln(os.Stderr, "  KYA_HISTORY_BACKEND:", viper.GetString("history_backend"))
		fmt.Fprintln(os.Stderr, "  KYA_API_BASE_URL:", viper.GetString("api_base_url"))
		fmt.Fprintln(os.Stderr, "  KYA_LANGUAGE:", viper.GetString("language"))
	}
}
