package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/splice/internal/editor"
	"github.com/ChuLiYu/splice/internal/metrics"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/internal/server"
)

func buildServeCommand() *cobra.Command {
	var grpcAddr string
	var metricsAddr string
	var noStdio bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the editor plugin server",
		Long: `Serve newline-delimited JSON requests on stdin/stdout for an editor plugin.
With --grpc (or grpc.enabled) the same job service is exposed over gRPC;
with --metrics (or metrics.enabled) Prometheus metrics are served over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, serveOptions{
				GRPCAddr:    grpcAddr,
				MetricsAddr: metricsAddr,
				NoStdio:     noStdio,
				Stdin:       cmd.InOrStdin(),
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC listen address (overrides grpc.addr and enables gRPC)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "metrics listen address (overrides metrics.addr and enables metrics)")
	cmd.Flags().BoolVar(&noStdio, "no-stdio", false, "serve gRPC only; requires gRPC to be enabled")

	return cmd
}

type serveOptions struct {
	GRPCAddr    string
	MetricsAddr string
	NoStdio     bool
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

func serve(ctx context.Context, opts serveOptions) error {
	cfg, logger, err := setup(opts.Stderr)
	if err != nil {
		return err
	}
	if opts.GRPCAddr != "" {
		cfg.GRPC.Enabled, cfg.GRPC.Addr = true, opts.GRPCAddr
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Enabled, cfg.Metrics.Addr = true, opts.MetricsAddr
	}
	if opts.NoStdio && !cfg.GRPC.Enabled {
		return fmt.Errorf("--no-stdio needs gRPC enabled (use --grpc)")
	}

	buffers := editor.NewBuffers()
	hub := server.NewHub(logger)
	buffers.OnEdit(hub.MirrorEdits(buffers))

	p, err := newPipeline(ctx, cfg, logger, pipelineOptions{
		Documents: buffers,
		Notifier:  server.Notifiers{hub, runner.LogNotifier{Logger: logger}},
		Progress:  hub,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	if err := p.skills.Watch(ctx); err != nil {
		logger.Warn("Skill cache will not refresh on file changes", "error", err)
	}
	if keep := cfg.Retention.Runs; keep > 0 {
		if _, err := p.runs.Prune(ctx, keep); err != nil {
			logger.Warn("Failed to prune recorded runs", "error", err)
		}
	}

	svc, err := server.NewService(server.ServiceConfig{
		Runner:    p.runner,
		Buffers:   buffers,
		Gatherer:  p.gatherer,
		Assembler: p.assembler,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.Serve(gctx, cfg.Metrics.Addr, p.registry); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if cfg.GRPC.Enabled {
		g.Go(func() error {
			return server.NewGRPC(svc, logger).Serve(gctx, cfg.GRPC.Addr)
		})
	}
	if !opts.NoStdio {
		g.Go(func() error {
			defer cancel() // editor hung up: stop everything else
			return server.NewStdio(svc, hub, logger).Serve(gctx, opts.Stdin, opts.Stdout)
		})
	}

	logger.Info("splice serving", "stdio", !opts.NoStdio, "grpc", cfg.GRPC.Enabled, "metrics", cfg.Metrics.Enabled)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("splice stopped")
	return err
}
