// Package proxy serves POST /api/chat: it prepends the assistant's system
// prompt to the posted conversation, forwards it to the upstream completion
// endpoint and relays the event stream back unchanged.
package proxy

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/knowyouranimal/kya/internal/openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Error bodies returned to clients as {"error": "..."}.
const (
	msgUnauthorized  = "Unauthorized"
	msgNoUpstreamKey = "GEMINI_API_KEY is not configured"
	msgNoMessages    = "messages array is required"
	msgTooMany       = "Too many requests. Please try again in a moment."
	msgUpstream      = "AI service error"
	msgFailed        = "Failed to process chat request"
)

const shutdownTimeout = 5 * time.Second

// Upstream issues a prepared streaming completion request.
// *openai.Client satisfies it.
type Upstream interface {
	Model() string
	StreamRaw(ctx context.Context, body []byte) (*http.Response, error)
}

// Server is the chat proxy.
type Server struct {
	upstream     Upstream
	systemPrompt string
	token        string
	limiter      *rate.Limiter
	logger       *zap.Logger
	engine       *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires clients to send "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = strings.TrimSpace(token)
	}
}

// WithSystemPrompt sets the system message placed before the posted messages.
func WithSystemPrompt(prompt string) Option {
	return func(s *Server) {
		s.systemPrompt = prompt
	}
}

// WithRateLimit caps chat requests at perSecond with the given burst.
// A non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer returns a Server forwarding to upstream. A nil upstream means no
// API key is configured; chat requests then fail with 500.
func NewServer(upstream Upstream, opts ...Option) *Server {
	s := &Server{
		upstream: upstream,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.accessLog())
	engine.GET("/health", s.handleHealth)
	engine.POST("/api/chat", s.handleChat)
	s.engine = engine
	return s
}

// Handler returns the HTTP handler serving the proxy routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("chat proxy listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.logger.Info("chat proxy shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) authorized(c *gin.Context) bool {
	if s.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func (s *Server) handleChat(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		return
	}
	if s.upstream == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgNoUpstreamKey})
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoMessages})
		return
	}
	messages := gjson.GetBytes(raw, "messages")
	if !gjson.ValidBytes(raw) || !messages.IsArray() {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoMessages})
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": msgTooMany})
		return
	}

	body, err := s.upstreamBody(messages)
	if err != nil {
		s.logger.Error("building upstream request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgFailed})
		return
	}

	resp, err := s.upstream.StreamRaw(c.Request.Context(), body)
	if err != nil {
		status := openai.StatusCode(err)
		switch {
		case status == http.StatusTooManyRequests:
			c.JSON(http.StatusTooManyRequests, gin.H{"error": msgTooMany})
		case status != 0:
			s.logger.Error("upstream error", zap.Int("status", status), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgUpstream})
		default:
			s.logger.Error("chat request failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgFailed})
		}
		return
	}
	defer resp.Body.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	n, err := relay(c.Writer, resp.Body)
	if err != nil && c.Request.Context().Err() == nil {
		s.logger.Warn("relaying reply stopped", zap.Int64("bytes", n), zap.Error(err))
	}
}

// upstreamBody builds the completion request: the system prompt followed by
// the posted messages, passed through as they were received.
func (s *Server) upstreamBody(messages gjson.Result) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "model", s.upstream.Model())
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetRawBytes(body, "messages", []byte(`[]`)); err != nil {
		return nil, err
	}
	if s.systemPrompt != "" {
		sys := kya.Message{Role: kya.RoleSystem, Content: s.systemPrompt}
		if body, err = sjson.SetBytes(body, "messages.-1", sys); err != nil {
			return nil, err
		}
	}
	for _, m := range messages.Array() {
		if body, err = sjson.SetRawBytes(body, "messages.-1", []byte(m.Raw)); err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(body, "stream", true)
}

// relay copies src to w, flushing after every read so each event reaches the
// client as soon as it arrives.
func relay(w gin.ResponseWriter, src io.Reader) (int64, error) {
	buf := make([]byte, 32<<10)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written, werr := w.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
			w.Flush()
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
