package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/knowyouranimal/kya/internal/proxy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat proxy",
	Long: `Run the chat proxy that 'kya chat' talks to.

POST /api/chat takes {"messages": [...]}, prepends the system prompt and
streams the upstream reply back as server-sent events. GET /health reports
liveness. The upstream key is read from upstream_token; without it the
proxy still starts and answers chat requests with an error.

Set chat_token to require "Authorization: Bearer <token>" from clients.
rate_limit and rate_burst cap chat requests across all clients.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		addr := cfg.ListenAddr
		if cmd.Flags().Changed("listen") {
			addr = listenAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		system, err := systemPrompt(cfg, nil)
		if err != nil {
			return err
		}

		var upstream proxy.Upstream
		client, err := newUpstream(ctx, cfg, false)
		if err != nil {
			logger.Warn("upstream unavailable, chat requests will fail", zap.Error(err))
		} else {
			upstream = client
		}

		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		server := proxy.NewServer(upstream,
			proxy.WithSystemPrompt(system),
			proxy.WithToken(cfg.ChatToken),
			proxy.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
			proxy.WithLogger(logger),
		)

		fmt.Fprintf(os.Stderr, "Chat proxy listening on %s (model %s)\n", addr, cfg.Model)
		if err := server.Run(ctx, addr); err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "Address to listen on (default from listen_addr)")
}
