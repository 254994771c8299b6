package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/splice/internal/lastrun"
)

// ExitError carries a recorded command's non-zero exit status to main.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("command exited with status %d", e.Code) }

func buildExecCommand() *cobra.Command {
	var capture int

	cmd := &cobra.Command{
		Use:   "exec -- <command> [args...]",
		Short: "Run a command and record its output for fix-mode prompts",
		Long: `Run a command in the workspace, streaming its output, and record the exit
status plus the tail of stdout and stderr. Jobs in fix mode (or with
--with-run) include the most recent recorded run in their prompt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return execAndRecord(ctx, args, capture, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVar(&capture, "capture", lastrun.DefaultCaptureBytes, "bytes of each stream to keep")
	return cmd
}

func execAndRecord(ctx context.Context, argv []string, capture int, stdout, stderr io.Writer) error {
	cfg, logger, err := setup(stderr)
	if err != nil {
		return err
	}
	store, err := lastrun.Open(cfg.path(cfg.Paths.Runs))
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer store.Close()

	run, err := lastrun.Exec(ctx, argv, cfg.Paths.Workspace, stdout, stderr, capture)
	if err != nil {
		return fmt.Errorf("failed to run %q: %w", argv[0], err)
	}
	// Record even if interrupted: a cancelled test run is still useful context.
	id, err := store.Record(context.WithoutCancel(ctx), run)
	if err != nil {
		return err
	}
	if keep := cfg.Retention.Runs; keep > 0 {
		if _, err := store.Prune(context.WithoutCancel(ctx), keep); err != nil {
			logger.Warn("Failed to prune recorded runs", "error", err)
		}
	}
	logger.Debug("Recorded run", "id", id, "exitCode", run.ExitCode, "duration", run.Duration())

	if run.ExitCode != 0 {
		return &ExitError{Code: run.ExitCode}
	}
	return nil
}
