package backend

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini transport.
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	System    string
	BaseURL   string
}

// Gemini sends one GenerateContent request per job.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGemini creates the Gemini transport.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("backend: gemini: API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("backend: gemini: create client: %w", err)
	}
	return &Gemini{cfg: cfg, client: client}, nil
}

// Name implements Backend.
func (g *Gemini) Name() string { return "gemini" }

// Start implements Backend.
func (g *Gemini) Start(ctx context.Context, prompt string) (Handle, error) {
	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.cfg.MaxTokens),
	}
	if g.cfg.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(g.cfg.System, genai.RoleUser)
	}
	return Go(ctx, func(ctx context.Context) Completion {
		resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), gc)
		if err != nil {
			return Completion{ExitCode: -1, Err: fmt.Errorf("generate content: %w", err)}
		}
		return Completion{Stdout: []byte(resp.Text())}
	}), nil
}
