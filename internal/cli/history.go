package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/splice/internal/journal"
	"github.com/ChuLiYu/splice/internal/lastrun"
	"github.com/ChuLiYu/splice/internal/transcript"
	"github.com/ChuLiYu/splice/pkg/types"
)

func buildHistoryCommand() *cobra.Command {
	var limit int
	var runs bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job outcomes",
		Long:  "List finished jobs from the audit journal, newest first. With --runs, list recorded command runs instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, limit, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&runs, "runs", false, "list recorded command runs")
	return cmd
}

func showHistory(cmd *cobra.Command, limit int, runs bool) error {
	cfg, _, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if runs {
		store, err := lastrun.Open(cfg.path(cfg.Paths.Runs))
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer store.Close()
		recent, err := store.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderRuns(recent))
		return nil
	}

	recs, err := journal.Tail(cfg.path(cfg.Paths.Journal), limit)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	fmt.Fprintln(out, renderHistory(recs))
	return nil
}

func buildInspectCommand() *cobra.Command {
	var session string
	var raw bool
	var width int

	cmd := &cobra.Command{
		Use:   "inspect [job-id]",
		Short: "Render a job transcript",
		Long: `Show the prompt, raw response and parsed code of a finished job.
Without a job id the most recent transcript is shown. Job ids restart with
each serve session; the newest session containing the id wins unless
--session is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), cmd.ErrOrStderr(), args, session, raw, width)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id to look in")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown file instead of rendering it")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width")
	return cmd
}

func inspect(stdout, stderr io.Writer, args []string, session string, raw bool, width int) error {
	cfg, _, err := setup(stderr)
	if err != nil {
		return err
	}
	store := transcript.NewStore(cfg.path(cfg.Paths.Transcripts), session)

	t, err := findTranscript(store, args, session)
	if err != nil {
		return err
	}
	if raw {
		md, err := transcript.Render(t)
		if err != nil {
			return err
		}
		_, err = stdout.Write(md)
		return err
	}
	out, err := renderTranscript(t, width)
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, out)
	return err
}

func findTranscript(store *transcript.Store, args []string, session string) (transcript.Transcript, error) {
	if len(args) == 1 {
		n, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return transcript.Transcript{}, fmt.Errorf("bad job id %q", args[0])
		}
		id := types.JobID(n)
		if session != "" {
			return store.Find(session, id)
		}
		metas, err := store.List()
		if err != nil {
			return transcript.Transcript{}, err
		}
		for _, m := range metas {
			if m.JobID == id {
				return transcript.Load(m.Path)
			}
		}
		return transcript.Transcript{}, fmt.Errorf("%w: job %s", transcript.ErrTranscriptNotFound, id)
	}

	metas, err := store.List()
	if err != nil {
		return transcript.Transcript{}, err
	}
	for _, m := range metas {
		if session == "" || m.Session == session {
			return transcript.Load(m.Path)
		}
	}
	return transcript.Transcript{}, errors.New("no transcripts recorded yet")
}
