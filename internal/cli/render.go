package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/splice/internal/journal"
	"github.com/ChuLiYu/splice/internal/lastrun"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/internal/transcript"
	"github.com/ChuLiYu/splice/pkg/types"
)

var (
	colorOK   = lipgloss.Color("42")
	colorFail = lipgloss.Color("196")
	colorWarn = lipgloss.Color("220")
	colorDim  = lipgloss.Color("245")
	colorHead = lipgloss.Color("81")

	styleOK     = lipgloss.NewStyle().Foreground(colorOK)
	styleFail   = lipgloss.NewStyle().Foreground(colorFail)
	styleWarn   = lipgloss.NewStyle().Foreground(colorWarn)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
	styleHeader = lipgloss.NewStyle().Foreground(colorHead).Bold(true)
	styleTitle  = lipgloss.NewStyle().Bold(true).Border(lipgloss.RoundedBorder()).Padding(0, 2)
)

// statusStyle colors a status by its notification severity.
func statusStyle(s types.JobStatus) lipgloss.Style {
	switch runner.Severity(s) {
	case slog.LevelError:
		return styleFail
	case slog.LevelWarn:
		return styleWarn
	}
	if s == types.StatusCancelled {
		return styleDim
	}
	return styleOK
}

func renderNotification(n runner.Notification) string {
	return statusStyle(n.Status).Render(n.Message)
}

// renderHistory lays journal records out one per line, newest first.
func renderHistory(recs []journal.Record) string {
	if len(recs) == 0 {
		return styleDim.Render("no finished jobs recorded")
	}
	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-6s %-14s %-9s %-10s %-28s %s", "JOB", "STATUS", "MODE", "DURATION", "LOCATION", "FINISHED")))
	b.WriteByte('\n')
	for _, r := range recs {
		status := statusStyle(r.Status).Render(fmt.Sprintf("%-14s", r.Status))
		loc := fmt.Sprintf("%s:%s", r.DocumentID, r.Range)
		fmt.Fprintf(&b, "%-6s %s %-9s %-10s %-28s %s\n",
			r.JobID, status, orDash(r.Mode), r.Duration().Round(time.Millisecond), truncatePath(loc, 28),
			styleDim.Render(r.FinishedAt.Local().Format("01-02 15:04:05")))
		if r.Error != "" {
			b.WriteString(styleDim.Render("       └─ "+truncate(r.Error, 100)) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderRuns lists recorded command runs, newest first.
func renderRuns(runs []lastrun.Run) string {
	if len(runs) == 0 {
		return styleDim.Render("no command runs recorded (use 'splice exec -- <cmd>')")
	}
	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-5s %-5s %-10s %s", "RUN", "EXIT", "DURATION", "COMMAND")))
	b.WriteByte('\n')
	for _, r := range runs {
		style := styleOK
		if r.ExitCode != 0 {
			style = styleFail
		}
		fmt.Fprintf(&b, "%-5d %s %-10s %s\n",
			r.ID, style.Render(fmt.Sprintf("%-5d", r.ExitCode)), r.Duration().Round(time.Millisecond), truncate(r.Command, 80))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderTranscript renders a transcript's markdown for the terminal.
func renderTranscript(t transcript.Transcript, width int) (string, error) {
	md, err := transcript.Render(t)
	if err != nil {
		return "", err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	// Front matter reads better as a header than as a YAML block.
	header := styleTitle.Render(fmt.Sprintf("job %s  %s  %s:%s",
		t.JobID, statusStyle(t.Status).Render(string(t.Status)), t.DocumentID, t.Range))
	out, err := r.Render(stripFrontMatter(string(md)))
	if err != nil {
		return "", fmt.Errorf("failed to render transcript: %w", err)
	}
	return header + "\n" + out, nil
}

func stripFrontMatter(md string) string {
	if !strings.HasPrefix(md, "---\n") {
		return md
	}
	if i := strings.Index(md[4:], "\n---\n"); i >= 0 {
		return md[4+i+5:]
	}
	return md
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// truncatePath keeps the end of a path, where the file name is.
func truncatePath(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n+1:]
}
