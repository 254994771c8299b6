// ============================================================================
// splice CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the splice command line based on the Cobra framework
//
// Command Structure:
//   splice                         # Root command
//   ├── serve                      # Editor plugin server (stdio, optional gRPC)
//   ├── run                        # One-shot job on a file on disk
//   ├── exec -- <cmd>              # Run a command and record its output
//   ├── history                    # Recent job outcomes from the journal
//   ├── inspect <job-id>           # Render a job transcript
//   ├── status                     # Configuration and live server status
//   ├── --config, -c               # Config file (default ~/.config/splice/config.yaml)
//   └── --log-level                # Overrides logging.level
//
// Configuration Management:
//   YAML config file; a missing file means built-in defaults. Sections:
//   backend, jobs, extract, prompt, paths, retention, metrics, grpc, logging.
//   The backend API key may come from SPLICE_API_KEY, ANTHROPIC_API_KEY or
//   GEMINI_API_KEY when the file leaves it empty.
//
// serve Command:
//   stdout carries protocol frames, so all logging goes to stderr.
//   1. Load config, build backend
//   2. Open journal, transcript store, last-run store, skills watcher
//   3. Start runner with the event hub as notifier and progress sink
//   4. Start metrics HTTP and gRPC servers (if enabled)
//   5. Serve stdio until EOF or SIGINT/SIGTERM, then stop the runner
//
// Examples:
//   splice serve
//   splice run -f main.go --lines 10-24 --mode fix
//   splice exec -- go test ./...
//   splice history -n 20
//   splice inspect 7
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/splice/internal/applier"
	"github.com/ChuLiYu/splice/internal/backend"
	"github.com/ChuLiYu/splice/internal/gather"
	"github.com/ChuLiYu/splice/internal/journal"
	"github.com/ChuLiYu/splice/internal/lastrun"
	"github.com/ChuLiYu/splice/internal/metrics"
	"github.com/ChuLiYu/splice/internal/prompt"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/internal/skills"
	"github.com/ChuLiYu/splice/internal/symbols"
	"github.com/ChuLiYu/splice/internal/transcript"
)

// Version is reported by --version.
const Version = "0.3.0"

var (
	configFile string
	logLevel   string
)

// newBackend builds the configured transport. Tests replace it.
var newBackend = backend.New

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "splice",
		Short: "splice: rewrite editor selections with a language model",
		Long: `splice runs language-model jobs against selected line ranges:
- concurrent jobs per document, with overlap rejection
- fenced-code extraction with prose and shrink guards
- single-step, undoable edits that keep sibling jobs aligned
- transcripts, an audit journal and Prometheus metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildExecCommand())
	rootCmd.AddCommand(buildHistoryCommand())
	rootCmd.AddCommand(buildInspectCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// setup loads the config and installs the stderr logger.
func setup(stderr io.Writer) (*Config, *slog.Logger, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(cfg *Config, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// ============================================================================
// Pipeline wiring shared by serve and run
// ============================================================================

// pipeline owns every long-lived component behind a runner.
type pipeline struct {
	cfg         *Config
	logger      *slog.Logger
	runner      *runner.Runner
	gatherer    *gather.Gatherer
	assembler   *prompt.Assembler
	skills      *skills.Store
	runs        *lastrun.Store
	journal     *journal.Journal
	transcripts *transcript.Store
	registry    *prometheus.Registry

	closers []func() error
}

// pipelineOptions are the pieces that differ between serve and run.
type pipelineOptions struct {
	Documents interface {
		applier.Document
		gather.Document
	}
	Notifier runner.Notifier
	Progress runner.Progress
}

func newPipeline(ctx context.Context, cfg *Config, logger *slog.Logger, opts pipelineOptions) (_ *pipeline, err error) {
	p := &pipeline{cfg: cfg, logger: logger, assembler: cfg.assembler()}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	be, err := newBackend(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	extractor, err := cfg.extractor()
	if err != nil {
		return nil, err
	}

	p.journal, err = journal.Open(cfg.path(cfg.Paths.Journal), journal.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	p.closers = append(p.closers, p.journal.Close)

	p.transcripts = transcript.NewStore(cfg.path(cfg.Paths.Transcripts), "")
	if keep := cfg.Retention.Transcripts; keep > 0 {
		if n, err := p.transcripts.Prune(keep); err != nil {
			logger.Warn("Failed to prune transcripts", "error", err)
		} else if n > 0 {
			logger.Debug("Pruned transcripts", "removed", n)
		}
	}

	p.runs, err = lastrun.Open(cfg.path(cfg.Paths.Runs))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	p.closers = append(p.closers, p.runs.Close)

	p.skills = skills.New(cfg.path(cfg.Paths.Skills), logger)
	p.closers = append(p.closers, p.skills.Close)

	p.registry = prometheus.NewRegistry()
	collector := metrics.NewCollector(p.registry)

	p.runner, err = runner.New(runner.Config{
		Backend:   be,
		Documents: opts.Documents,
		Extractor: extractor,
		Timeout:   cfg.Jobs.Timeout,
		LogSize:   cfg.Jobs.LogSize,
		Notifier:  opts.Notifier,
		Progress:  opts.Progress,
		Recorder:  collector,
		Archivers: []runner.Archiver{p.journal, p.transcripts},
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	p.gatherer = gather.New(gather.Config{
		Skills:           p.skills,
		Symbols:          symbols.New(cfg.Paths.Workspace),
		Runs:             p.runs,
		Documents:        opts.Documents,
		SurroundingLines: cfg.Jobs.SurroundingLines,
		Logger:           logger,
	})

	logger.Info("Pipeline ready",
		"backend", be.Name(),
		"workspace", cfg.Paths.Workspace,
		"session", p.transcripts.Session(),
		"timeout", cfg.Jobs.Timeout)
	return p, nil
}

// Close stops the runner (cancelling running jobs) and closes every store.
func (p *pipeline) Close() error {
	if p.runner != nil {
		p.runner.Stop()
	}
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
