package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/charmbracelet/glamour"
	"github.com/knowyouranimal/kya/internal/api"
	"github.com/knowyouranimal/kya/internal/auth"
	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/knowyouranimal/kya/internal/kya/history"
	"github.com/knowyouranimal/kya/internal/kya/prompt"
	"github.com/knowyouranimal/kya/internal/openai"
	"github.com/knowyouranimal/kya/internal/paramstore"
	"github.com/knowyouranimal/kya/internal/proxy"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// openHistory opens the conversation store on the configured backend. The
// returned func releases the backend.
func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, func(), error) {
	closer := func() {}
	var kv history.KV

	switch cfg.HistoryBackend {
	case config.BackendMemory:
		kv = history.NewMemoryKV()
	case config.BackendFile:
		fileKV, err := history.NewFileKV(cfg.HistoryPath)
		if err != nil {
			return nil, nil, err
		}
		kv = fileKV
	case config.BackendBolt:
		kv = history.NewBoltKV(filepath.Join(cfg.HistoryPath, "history.db"))
	case config.BackendSQLite:
		sqliteKV, err := history.OpenSQLite(ctx, filepath.Join(cfg.HistoryPath, "history.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		kv = sqliteKV
		closer = func() {
			if err := sqliteKV.Close(); err != nil {
				logger.Warn("closing history database failed", zap.Error(err))
			}
		}
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		dynamoKV, err := history.NewDynamoKV(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
		if err != nil {
			return nil, nil, err
		}
		kv = dynamoKV
	default:
		return nil, nil, fmt.Errorf("unsupported history_backend: %q", cfg.HistoryBackend)
	}

	logger.Debug("opening history", zap.String("backend", cfg.HistoryBackend), zap.String("path", cfg.HistoryPath))
	store := history.Open(ctx, kv, history.WithLogger(logger), history.WithKey(cfg.HistoryKey))
	return store, closer, nil
}

// newParamStore returns a parameter store client when a secret refers to one.
func newParamStore(ctx context.Context, cfg *config.Config) (config.ParamGetter, error) {
	if !cfg.UsesParamStore() {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return paramstore.New(ssm.NewFromConfig(awsCfg))
}

// systemPrompt returns the configured system prompt in the configured language.
func systemPrompt(cfg *config.Config, extra map[string]string) (string, error) {
	text, err := prompt.System(cfg.PromptFile)
	if err != nil {
		return "", err
	}
	vars := prompt.Vars(cfg.Language)
	for k, v := range extra {
		vars[k] = v
	}
	return prompt.Expand(text, vars), nil
}

// newUpstream returns a client for the upstream completion endpoint.
func newUpstream(ctx context.Context, cfg *config.Config, includePrompt bool) (*openai.Client, error) {
	params, err := newParamStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	token, err := cfg.GetUpstreamToken(ctx, params)
	if err != nil {
		return nil, err
	}

	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithLogger(logger)}
	if includePrompt {
		system, err := systemPrompt(cfg, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, openai.WithSystemPrompt(system))
	}
	return openai.NewClient(cfg.UpstreamBaseURL, token, opts...)
}

// newStreamer returns what the chat controller streams replies from: the chat
// proxy, or the upstream endpoint itself when upstream is set.
func newStreamer(ctx context.Context, cfg *config.Config, upstream bool) (kya.Streamer, error) {
	if upstream {
		return newUpstream(ctx, cfg, true)
	}
	chatURL, err := cfg.GetChatURL()
	if err != nil {
		return nil, err
	}
	return proxy.NewClient(chatURL, cfg.ChatToken, proxy.WithClientLogger(logger))
}

// newAPIClient returns a backend client whose session cookies are kept in
// the config directory.
func newAPIClient(cfg *config.Config) (*api.Client, *auth.Jar, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, nil, err
	}
	jar, err := auth.OpenJar(filepath.Join(dir, "cookies.json"))
	if err != nil {
		return nil, nil, err
	}
	client := api.New(cfg.APIBaseURL,
		api.WithHTTPClient(&http.Client{Jar: jar}),
		api.WithLogger(logger),
	)
	return client, jar, nil
}

// stdoutIsTerminal reports whether output goes to an interactive terminal.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newRenderer() (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
}

// renderMarkdown renders text for the terminal, falling back to the raw text.
func renderMarkdown(r *glamour.TermRenderer, text string) string {
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		logger.Debug("rendering markdown failed", zap.Error(err))
		return text
	}
	return out
}
