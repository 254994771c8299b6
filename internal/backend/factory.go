package backend

import (
	"context"
	"fmt"
	"time"
)

// Backend kinds accepted by New.
const (
	KindHTTP    = "http"
	KindCommand = "command"
	KindGemini  = "gemini"
)

// Config selects and configures one transport.
type Config struct {
	Kind             string        `yaml:"kind"`
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"max_tokens"`
	System           string        `yaml:"system"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
	Command          string        `yaml:"command"`
	Args             []string      `yaml:"args"`
	Dir              string        `yaml:"dir"`
	GracePeriod      time.Duration `yaml:"grace_period"`
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindHTTP, "":
		b, err := NewHTTP(HTTPConfig{
			URL:              cfg.URL,
			APIKey:           cfg.APIKey,
			Model:            cfg.Model,
			MaxTokens:        cfg.MaxTokens,
			System:           cfg.System,
			MaxResponseBytes: cfg.MaxResponseBytes,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindCommand:
		b, err := NewCommand(CommandConfig{
			Path:           cfg.Command,
			Args:           cfg.Args,
			Dir:            cfg.Dir,
			GracePeriod:    cfg.GracePeriod,
			MaxOutputBytes: cfg.MaxResponseBytes,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindGemini:
		b, err := NewGemini(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			System:    cfg.System,
			BaseURL:   cfg.URL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("backend: unknown kind %q", cfg.Kind)
	}
}
