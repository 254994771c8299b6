package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/splice/internal/editor"
	"github.com/ChuLiYu/splice/internal/gather"
	"github.com/ChuLiYu/splice/internal/prompt"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/pkg/types"
)

// runOptions is one command-line job.
type runOptions struct {
	File             string
	Lines            string
	Language         string
	Mode             string
	Instructions     string
	Skills           []string
	Symbols          []string
	IncludeRunOutput bool
	Timeout          time.Duration
	DryRun           bool
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start one job against a file on disk and wait for it",
		Long: `Rewrite a line range of a file in place. The file is written atomically
only when the model returns acceptable code; every other outcome leaves it
untouched and exits with an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.File == "" {
				return fmt.Errorf("file is required (use --file or -f)")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runJob(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "file to edit")
	cmd.Flags().StringVarP(&opts.Lines, "lines", "l", "", "inclusive line range, e.g. 10-24 (default: whole file)")
	cmd.Flags().StringVar(&opts.Language, "lang", "", "language hint (default: from file extension)")
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", string(prompt.ModeEdit), "job mode: edit, fix, refactor, doc, test")
	cmd.Flags().StringVarP(&opts.Instructions, "instructions", "i", "", "instructions for the model")
	cmd.Flags().StringSliceVar(&opts.Skills, "skill", nil, "skill document to include (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Symbols, "symbol", nil, "workspace symbol to include (repeatable)")
	cmd.Flags().BoolVar(&opts.IncludeRunOutput, "with-run", false, "include the last recorded command output")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "job timeout (default: jobs.timeout)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the prompt and exit without calling the backend")

	return cmd
}

func runJob(ctx context.Context, opts runOptions, stdout, stderr io.Writer) error {
	cfg, logger, err := setup(stderr)
	if err != nil {
		return err
	}
	mode, err := prompt.ParseMode(opts.Mode)
	if err != nil {
		return err
	}

	files := editor.NewFiles()
	doc := types.DocumentID(opts.File)
	count, err := files.LineCount(doc)
	if err != nil {
		return err
	}
	start, end, err := parseLines(opts.Lines, count)
	if err != nil {
		return err
	}
	text, err := files.ReadLines(doc, start, end)
	if err != nil {
		return err
	}
	lang := opts.Language
	if lang == "" {
		lang = languageOf(opts.File)
	}
	sel := types.Selection{DocumentID: doc, StartLine: start, EndLine: end, OriginalText: text, Language: lang}

	var result runner.Notification
	done := make(chan struct{})
	p, err := newPipeline(ctx, cfg, logger, pipelineOptions{
		Documents: files,
		Notifier: runner.NotifierFunc(func(n runner.Notification) {
			result = n
			close(done)
		}),
	})
	if err != nil {
		return err
	}
	defer p.Close()

	in, warnings, err := p.gatherer.Gather(ctx, gather.Request{
		Selection:        sel,
		Mode:             mode,
		Instructions:     opts.Instructions,
		Skills:           opts.Skills,
		Symbols:          opts.Symbols,
		IncludeRunOutput: opts.IncludeRunOutput,
	})
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(stderr, styleWarn.Render("warning: ")+w)
	}
	text = p.assembler.Build(in)

	if opts.DryRun {
		_, err := io.WriteString(stdout, text)
		return err
	}

	id, err := p.runner.Submit(runner.Request{Selection: sel, Prompt: text, Mode: string(mode), Timeout: opts.Timeout})
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "%s job %s on %s:%s\n", styleDim.Render("started"), id, opts.File, types.LineRange{Start: start, End: end})

	select {
	case <-done:
	case <-ctx.Done():
		p.runner.Cancel(id)
		<-done
	}

	fmt.Fprintln(stdout, renderNotification(result))
	switch result.Status {
	case types.StatusSucceeded, types.StatusNoChange:
		return nil
	default:
		return fmt.Errorf("job %s finished %s", id, result.Status)
	}
}

// parseLines parses "a-b", "a" or "" (the whole file).
func parseLines(s string, count int) (int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1, count, nil
	}
	first, last, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad line range %q", types.ErrInvalidSelection, s)
	}
	end := start
	if found {
		if end, err = strconv.Atoi(strings.TrimSpace(last)); err != nil {
			return 0, 0, fmt.Errorf("%w: bad line range %q", types.ErrInvalidSelection, s)
		}
	}
	if start < 1 || end < start || end > count {
		return 0, 0, fmt.Errorf("%w: lines %d-%d of %d", types.ErrInvalidSelection, start, end, count)
	}
	return start, end, nil
}

var extLanguages = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".tsx": "tsx", ".jsx": "jsx", ".rs": "rust", ".rb": "ruby", ".java": "java",
	".c": "c", ".h": "c", ".cc": "cpp", ".cpp": "cpp", ".hpp": "cpp",
	".sh": "bash", ".lua": "lua", ".sql": "sql", ".yaml": "yaml", ".yml": "yaml",
	".hs": "haskell", ".ex": "elixir", ".exs": "elixir", ".el": "lisp",
}

func languageOf(path string) string {
	return extLanguages[strings.ToLower(filepath.Ext(path))]
}
