package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// History backends accepted by history_backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds the configuration for the kya client and proxy
type Config struct {
	ChatURL         string  `toml:"chat_url" mapstructure:"chat_url"`
	ChatToken       string  `toml:"chat_token" mapstructure:"chat_token"`
	UpstreamBaseURL string  `toml:"upstream_base_url" mapstructure:"upstream_base_url"`
	UpstreamToken   string  `toml:"upstream_token" mapstructure:"upstream_token"` // "$VAR", "${VAR}" or "ssm:/param/name"
	Model           string  `toml:"model" mapstructure:"model"`
	PromptFile      string  `toml:"prompt_file" mapstructure:"prompt_file"` // empty = built-in prompt
	ListenAddr      string  `toml:"listen_addr" mapstructure:"listen_addr"`
	RateLimit       float64 `toml:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst       int     `toml:"rate_burst" mapstructure:"rate_burst"`
	HistoryBackend  string  `toml:"history_backend" mapstructure:"history_backend"`
	HistoryPath     string  `toml:"history_path" mapstructure:"history_path"`
	HistoryKey      string  `toml:"history_key" mapstructure:"history_key"`
	DynamoDBTable   string  `toml:"dynamodb_table" mapstructure:"dynamodb_table"`
	APIBaseURL      string  `toml:"api_base_url" mapstructure:"api_base_url"`
	OverpassURL     string  `toml:"overpass_url" mapstructure:"overpass_url"`
	VetsRadius      int     `toml:"vets_radius" mapstructure:"vets_radius"` // meters
	Language        string  `toml:"language" mapstructure:"language"`       // "en" or "hi"
}

// NewDefaultConfig returns a new Config with default values
func NewDefaultConfig(configDir string) *Config {
	return &Config{
		ChatURL:         "http://localhost:8080/api/chat",
		ChatToken:       "",
		UpstreamBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
		UpstreamToken:   "$GEMINI_API_KEY",
		Model:           "gemini-2.0-flash",
		PromptFile:      "",
		ListenAddr:      ":8080",
		RateLimit:       2,
		RateBurst:       5,
		HistoryBackend:  BackendFile,
		HistoryPath:     filepath.Join(configDir, "history"),
		HistoryKey:      "animal-chat-history",
		DynamoDBTable:   "",
		APIBaseURL:      "http://localhost:3000/api",
		OverpassURL:     "https://overpass-api.de/api/interpreter",
		VetsRadius:      10000,
		Language:        "en",
	}
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.HistoryBackend {
	case BackendMemory, BackendFile, BackendBolt, BackendSQLite:
	case BackendDynamoDB:
		if strings.TrimSpace(c.DynamoDBTable) == "" {
			return fmt.Errorf("history_backend %q requires dynamodb_table", BackendDynamoDB)
		}
	default:
		return fmt.Errorf("unsupported history_backend: %q (expected memory, file, bolt, sqlite or dynamodb)", c.HistoryBackend)
	}
	switch c.Language {
	case "en", "hi":
	default:
		return fmt.Errorf("unsupported language: %q (expected en or hi)", c.Language)
	}
	if c.VetsRadius <= 0 {
		return fmt.Errorf("vets_radius must be positive (got %d)", c.VetsRadius)
	}
	return nil
}

// LoadConfig loads configuration from viper
func LoadConfig() (*Config, error) {
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.ChatToken = expandEnvVar(config.ChatToken)
	if !isParamRef(config.UpstreamToken) {
		config.UpstreamToken = expandEnvVar(config.UpstreamToken)
	}

	if config.HistoryPath != "" {
		absPath, err := ResolvePath(config.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("error resolving history path '%s': %w", config.HistoryPath, err)
		}
		config.HistoryPath = absPath
	}
	if config.PromptFile != "" {
		absPath, err := ResolvePath(config.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("error resolving prompt file path '%s': %w", config.PromptFile, err)
		}
		config.PromptFile = absPath
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
