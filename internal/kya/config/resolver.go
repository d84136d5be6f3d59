package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const paramPrefix = "ssm:"

// ParamGetter resolves a named secret from a parameter store.
// *paramstore.Client satisfies this interface.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// expandEnvVar expands environment variable references in the given value
// Supports both $VAR and ${VAR} syntax
// If the environment variable is not set, returns empty string.
func expandEnvVar(value string) string {
	if !strings.HasPrefix(value, "$") {
		return value
	}

	var envVarName string
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVarName = value[2 : len(value)-1]
	} else {
		envVarName = strings.TrimPrefix(value, "$")
	}

	return os.Getenv(envVarName)
}

func isParamRef(value string) bool {
	return strings.HasPrefix(value, paramPrefix)
}

// ResolveSecret turns a configured secret into its value.
// "ssm:/name" is fetched through params; anything else has already been
// expanded by LoadConfig and is returned unchanged.
func ResolveSecret(ctx context.Context, value string, params ParamGetter) (string, error) {
	if !isParamRef(value) {
		return value, nil
	}
	if params == nil {
		return "", errors.New("parameter store is not configured")
	}
	name := strings.TrimPrefix(value, paramPrefix)
	secret, err := params.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", value, err)
	}
	return strings.TrimSpace(secret), nil
}

// UsesParamStore reports whether any secret must be fetched from a parameter store.
func (c *Config) UsesParamStore() bool {
	return isParamRef(c.UpstreamToken)
}

// GetUpstreamToken returns the resolved upstream API key
func (c *Config) GetUpstreamToken(ctx context.Context, params ParamGetter) (string, error) {
	token, err := ResolveSecret(ctx, c.UpstreamToken, params)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("upstream token is not configured. Set it in config file (upstream_token) or environment variable (KYA_UPSTREAM_TOKEN)")
	}
	return token, nil
}

// GetChatURL returns the chat endpoint the client talks to
func (c *Config) GetChatURL() (string, error) {
	if strings.TrimSpace(c.ChatURL) == "" {
		return "", fmt.Errorf("chat URL is not configured. Set it in config file (chat_url) or environment variable (KYA_CHAT_URL)")
	}
	return c.ChatURL, nil
}

// ResolvePath converts a relative path to absolute path if needed
func ResolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}

	// Get config file directory as base directory
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("error getting current working directory: %w", err)
		}
		return filepath.Join(cwd, path), nil
	}

	configDir := filepath.Dir(configFile)
	if !filepath.IsAbs(configDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("error getting current working directory: %w", err)
		}
		configDir = filepath.Join(cwd, configDir)
	}

	return filepath.Join(configDir, path), nil
}

// ConfigDir returns the directory holding the active config file, or
// $HOME/.config/kya when none was loaded.
func ConfigDir() (string, error) {
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		return filepath.Abs(filepath.Dir(configFile))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "kya"), nil
}
