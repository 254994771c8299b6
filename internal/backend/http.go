package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Defaults for the hosted HTTP transport.
const (
	DefaultHTTPURL          = "https://api.anthropic.com/v1/messages"
	DefaultHTTPModel        = "claude-sonnet-4-5"
	DefaultMaxTokens        = 4096
	DefaultMaxResponseBytes = 4 << 20
	anthropicVersion        = "2023-06-01"
)

// HTTPConfig configures the hosted Messages API transport.
type HTTPConfig struct {
	URL              string
	APIKey           string
	Model            string
	MaxTokens        int
	System           string
	MaxResponseBytes int64
	Client           *http.Client
}

// HTTP sends one Messages API request per job.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTP creates the HTTP transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("backend: http: API key not configured")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultHTTPURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHTTPModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTP{cfg: cfg, client: client}, nil
}

// Name implements Backend.
func (h *HTTP) Name() string { return "http" }

// Start implements Backend.
func (h *HTTP) Start(ctx context.Context, prompt string) (Handle, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     h.cfg.Model,
		MaxTokens: h.cfg.MaxTokens,
		System:    h.cfg.System,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("backend: http: marshal request: %w", err)
	}
	return Go(ctx, func(ctx context.Context) Completion {
		return h.do(ctx, body)
	}), nil
}

func (h *HTTP) do(ctx context.Context, body []byte) Completion {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Completion{ExitCode: -1, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", h.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := h.client.Do(req)
	if err != nil {
		return Completion{ExitCode: -1, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxResponseBytes+1))
	if err != nil {
		return Completion{ExitCode: -1, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(raw)) > h.cfg.MaxResponseBytes {
		return Completion{ExitCode: -1, Err: fmt.Errorf("response exceeds %d bytes", h.cfg.MaxResponseBytes)}
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{
			ExitCode: resp.StatusCode,
			Stderr:   raw,
			Err:      fmt.Errorf("API request failed with status %d", resp.StatusCode),
		}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{ExitCode: -1, Stderr: raw, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if parsed.Error != nil {
		return Completion{ExitCode: -1, Stderr: raw, Err: fmt.Errorf("API error: %s", parsed.Error.Message)}
	}
	if parsed.Content == nil {
		return Completion{ExitCode: -1, Stderr: raw, Err: fmt.Errorf("malformed response: no content")}
	}

	var sb strings.Builder
	for _, c := range parsed.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return Completion{Stdout: []byte(sb.String())}
}
