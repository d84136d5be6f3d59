// Package openai is a client for OpenAI-compatible chat completion endpoints,
// such as the one Gemini exposes under /v1beta/openai.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel   = "gemini-2.0-flash"

	maxErrorBody = 64 << 10
)

// chatRequest is the request body for a streaming chat completion
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []kya.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

// modelsResponse is the minimal response shape of GET /models
type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// HTTPStatusError captures non-2xx responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	msg := e.Message()
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, msg)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Message extracts the error text from a JSON error body. Both
// {"error":"..."} and {"error":{"message":"..."}} are understood; any other
// body is returned trimmed.
func (e *HTTPStatusError) Message() string {
	if gjson.Valid(e.Body) {
		if m := gjson.Get(e.Body, "error.message"); m.Type == gjson.String {
			return m.Str
		}
		if m := gjson.Get(e.Body, "error"); m.Type == gjson.String {
			return m.Str
		}
		if m := gjson.Get(e.Body, "message"); m.Type == gjson.String {
			return m.Str
		}
	}
	return strings.TrimSpace(e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se interface{ HTTPStatusCode() int }
	if errors.As(err, &se) {
		return se.HTTPStatusCode()
	}
	return 0
}

// Client talks to an OpenAI-compatible API.
type Client struct {
	baseURL      string
	token        string
	model        string
	systemPrompt string
	httpClient   *http.Client
	logger       *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// WithSystemPrompt makes Stream prepend a system message.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		c.systemPrompt = prompt
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client. The default HTTP client has no overall timeout
// since a streamed body stays open for the whole reply; use the request
// context to bound a call.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("openai: token must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		model:      DefaultModel,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the model Stream requests.
func (c *Client) Model() string {
	return c.model
}

func chatURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/completions"
}

func modelsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/models"
}

// Stream requests a streamed completion for messages. The system prompt, when
// configured, is sent first. The caller must close the returned body.
func (c *Client) Stream(ctx context.Context, messages []kya.Message) (io.ReadCloser, error) {
	msgs := make([]kya.Message, 0, len(messages)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, kya.Message{Role: kya.RoleSystem, Content: c.systemPrompt})
	}
	msgs = append(msgs, messages...)

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	resp, err := c.StreamRaw(ctx, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// StreamRaw posts a prepared chat completion body and returns the response
// once a 2xx status has been received. Non-2xx responses are returned as
// *HTTPStatusError with the body already consumed.
func (c *Client) StreamRaw(ctx context.Context, body []byte) (*http.Response, error) {
	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	c.logger.Debug("requesting chat completion", zap.String("url", url), zap.Int("bytes", len(body)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url, Body: string(raw)}
	}
	return resp, nil
}

// ListModels returns the models offered by the endpoint, sorted by id.
func (c *Client) ListModels(ctx context.Context) ([]kya.ModelInfo, error) {
	url := modelsURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url, Body: string(raw)}
	}

	var payload modelsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("openai: decode models: %w", err)
	}
	models := make([]kya.ModelInfo, 0, len(payload.Data))
	for _, m := range payload.Data {
		// Gemini reports ids as "models/gemini-2.0-flash"
		models = append(models, kya.ModelInfo{ID: strings.TrimPrefix(m.ID, "models/"), OwnedBy: m.OwnedBy})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}
