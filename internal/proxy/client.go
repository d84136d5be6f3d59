package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/knowyouranimal/kya/internal/openai"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

type chatRequest struct {
	Messages []kya.Message `json:"messages"`
}

// Client posts conversations to a chat proxy. It implements kya.Streamer.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for chat requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a Client for the chat endpoint at url. token may be
// empty when the proxy does not require one.
func NewClient(url, token string, opts ...ClientOption) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("proxy: chat URL must not be empty")
	}
	c := &Client{
		url:        url,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stream posts messages and returns the event stream body. Non-2xx responses
// are returned as *openai.HTTPStatusError carrying the proxy's error text.
func (c *Client) Stream(ctx context.Context, messages []kya.Message) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{Messages: kya.CloneMessages(messages)})
	if err != nil {
		return nil, fmt.Errorf("proxy: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("proxy: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("posting chat", zap.String("url", c.url), zap.Int("messages", len(messages)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &openai.HTTPStatusError{StatusCode: resp.StatusCode, URL: c.url, Body: string(raw)}
	}
	if resp.Body == nil {
		return nil, errors.New("proxy: response has no body")
	}
	return resp.Body, nil
}
