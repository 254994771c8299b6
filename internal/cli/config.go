package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/splice/internal/backend"
	"github.com/ChuLiYu/splice/internal/extract"
	"github.com/ChuLiYu/splice/internal/gather"
	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/internal/prompt"
	"github.com/ChuLiYu/splice/internal/runner"
)

// Config represents the complete configuration file.
// Maps config file fields through YAML tags
type Config struct {
	Backend backend.Config `yaml:"backend"`

	Jobs struct {
		Timeout          time.Duration `yaml:"timeout"`
		LogSize          int           `yaml:"log_size"`
		SurroundingLines int           `yaml:"surrounding_lines"`
	} `yaml:"jobs"`

	Extract struct {
		ProsePatterns  []string `yaml:"prose_patterns"`
		MonologueRatio float64  `yaml:"monologue_ratio"`
		ShrinkRatio    float64  `yaml:"shrink_ratio"`
		ShrinkMinLines int      `yaml:"shrink_min_lines"`
	} `yaml:"extract"`

	Prompt struct {
		CommentPrefixes      map[string]string `yaml:"comment_prefixes"`
		DefaultCommentPrefix string            `yaml:"default_comment_prefix"`
		ExcerptLines         int               `yaml:"excerpt_lines"`
		RunOutputBytes       int               `yaml:"run_output_bytes"`
	} `yaml:"prompt"`

	Paths struct {
		Workspace   string `yaml:"workspace"`
		Skills      string `yaml:"skills"`
		Transcripts string `yaml:"transcripts"`
		Journal     string `yaml:"journal"`
		Runs        string `yaml:"runs"`
	} `yaml:"paths"`

	Retention struct {
		Transcripts int `yaml:"transcripts"`
		Runs        int `yaml:"runs"`
	} `yaml:"retention"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	GRPC struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"grpc"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Environment variables consulted for the backend API key, in order.
var apiKeyEnv = []string{"SPLICE_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"}

// DefaultConfigPath returns ~/.config/splice/config.yaml.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".splice", "config.yaml")
	}
	return filepath.Join(dir, "splice", "config.yaml")
}

// DefaultConfig returns the built-in configuration. Paths are relative to the
// workspace unless absolute.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Backend.Kind = backend.KindHTTP
	cfg.Backend.GracePeriod = backend.DefaultGracePeriod

	cfg.Jobs.Timeout = runner.DefaultTimeout
	cfg.Jobs.LogSize = joblog.DefaultCapacity
	cfg.Jobs.SurroundingLines = gather.DefaultSurroundingLines

	cfg.Extract.MonologueRatio = extract.DefaultMonologueRatio
	cfg.Extract.ShrinkRatio = extract.DefaultShrinkRatio
	cfg.Extract.ShrinkMinLines = extract.DefaultShrinkMinLines

	cfg.Prompt.DefaultCommentPrefix = "//"
	cfg.Prompt.ExcerptLines = prompt.DefaultExcerptLines
	cfg.Prompt.RunOutputBytes = prompt.DefaultRunOutputBytes

	cfg.Paths.Workspace = "."
	cfg.Paths.Skills = filepath.Join(".splice", "skills")
	cfg.Paths.Transcripts = filepath.Join(".splice", "transcripts")
	cfg.Paths.Journal = filepath.Join(".splice", "journal.log")
	cfg.Paths.Runs = filepath.Join(".splice", "runs.db")

	cfg.Retention.Transcripts = 500
	cfg.Retention.Runs = 50

	cfg.Metrics.Addr = "127.0.0.1:9090"
	cfg.GRPC.Addr = "127.0.0.1:50051"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// loadConfig reads path over the defaults. A missing file yields the
// defaults; a malformed one is an error.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if cfg.Backend.APIKey == "" {
		for _, name := range apiKeyEnv {
			if v := os.Getenv(name); v != "" {
				cfg.Backend.APIKey = v
				break
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case backend.KindHTTP, backend.KindCommand, backend.KindGemini:
	default:
		return fmt.Errorf("config: unknown backend kind %q", c.Backend.Kind)
	}
	if c.Backend.Kind == backend.KindCommand && c.Backend.Command == "" {
		return errors.New("config: backend.command is required for the command backend")
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("config: jobs.timeout must be positive, got %s", c.Jobs.Timeout)
	}
	if c.Jobs.LogSize <= 0 {
		return fmt.Errorf("config: jobs.log_size must be positive, got %d", c.Jobs.LogSize)
	}
	if c.Jobs.SurroundingLines < 0 {
		return fmt.Errorf("config: jobs.surrounding_lines must not be negative")
	}
	if c.Retention.Transcripts < 0 || c.Retention.Runs < 0 {
		return errors.New("config: retention counts must not be negative")
	}
	if r := c.Extract.MonologueRatio; r <= 0 || r > 1 {
		return fmt.Errorf("config: extract.monologue_ratio must be in (0, 1], got %v", r)
	}
	if r := c.Extract.ShrinkRatio; r < 0 || r > 1 {
		return fmt.Errorf("config: extract.shrink_ratio must be in [0, 1], got %v", r)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// extractor builds the Output Extractor from the extract section.
func (c *Config) extractor() (*extract.Extractor, error) {
	xc := extract.DefaultConfig()
	if len(c.Extract.ProsePatterns) > 0 {
		patterns, err := extract.CompilePatterns(c.Extract.ProsePatterns)
		if err != nil {
			return nil, fmt.Errorf("config: extract.prose_patterns: %w", err)
		}
		xc.ProsePatterns = patterns
	}
	xc.MonologueRatio = c.Extract.MonologueRatio
	xc.ShrinkRatio = c.Extract.ShrinkRatio
	xc.ShrinkMinLines = c.Extract.ShrinkMinLines
	return extract.New(xc), nil
}

func (c *Config) assembler() *prompt.Assembler {
	return &prompt.Assembler{
		CommentPrefixes:      c.Prompt.CommentPrefixes,
		DefaultCommentPrefix: c.Prompt.DefaultCommentPrefix,
		ExcerptLines:         c.Prompt.ExcerptLines,
		RunOutputBytes:       c.Prompt.RunOutputBytes,
	}
}

// path resolves a configured path against the workspace.
func (c *Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.Workspace, p)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: logging.level: %w", err)
	}
	return level, nil
}
