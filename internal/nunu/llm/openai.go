package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL points at a local OpenAI-compatible server.
	DefaultBaseURL = "http://localhost:1234"

	// CompletionsPath is appended to the base URL.
	CompletionsPath = "/v1/chat/completions"

	// DefaultTimeout bounds a single completion request.
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 512
	maxBodyBytes = 4 << 20
)

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// BaseURL is the server root, without the completions path. Defaults to
	// DefaultBaseURL. A trailing slash is ignored.
	BaseURL string
	// Model is used when Request.Model is empty.
	Model string
	// Timeout for each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// OpenAI implements Provider against the chat completions endpoint.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a provider backed by an OpenAI-compatible API.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAI{cfg: cfg, client: client}
}

// Endpoint returns the full completions URL.
func (p *OpenAI) Endpoint() string { return p.cfg.BaseURL + CompletionsPath }

// Model returns the default model.
func (p *OpenAI) Model() string { return p.cfg.Model }

type oaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// Complete sends a chat completion request and returns the first choice's
// message content.
func (p *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = p.cfg.Model
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid completion request: %w", err)
	}

	data, err := json.Marshal(oaiRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint(), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: body is not JSON", ErrMalformedResponse)
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return "", fmt.Errorf("%w: no choices[0].message.content", ErrMalformedResponse)
	}
	return content.String(), nil
}

// errorMessage prefers the structured error.message field and falls back to
// a truncated copy of the raw body.
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Type == gjson.String && msg.String() != "" {
		return msg.String()
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
		s += "..."
	}
	return s
}
