package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/splice/internal/journal"
	"github.com/ChuLiYu/splice/internal/server"
	"github.com/ChuLiYu/splice/pkg/types"
)

func buildStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and server status",
		Long: `Display the effective configuration and a summary of the audit journal.
With --addr (or grpc.enabled) the running server is queried over gRPC for
health and in-flight jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address of a running server")
	return cmd
}

func showStatus(ctx context.Context, out, errOut io.Writer, addr string) error {
	cfg, _, err := setup(errOut)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, styleTitle.Render("splice status"))
	fmt.Fprintln(out)

	// Configuration
	fmt.Fprintln(out, styleHeader.Render("Configuration"))
	fmt.Fprintf(out, "  ├─ Config File:   %s\n", configFile)
	fmt.Fprintf(out, "  ├─ Backend:       %s %s\n", cfg.Backend.Kind, styleDim.Render(backendDetail(cfg)))
	fmt.Fprintf(out, "  ├─ Job Timeout:   %s\n", cfg.Jobs.Timeout)
	fmt.Fprintf(out, "  ├─ Job Log Size:  %d\n", cfg.Jobs.LogSize)
	fmt.Fprintf(out, "  └─ Workspace:     %s\n", cfg.Paths.Workspace)
	fmt.Fprintln(out)

	// Storage
	fmt.Fprintln(out, styleHeader.Render("Storage"))
	fmt.Fprintf(out, "  ├─ Journal:       %s\n", cfg.path(cfg.Paths.Journal))
	fmt.Fprintf(out, "  ├─ Transcripts:   %s %s\n", cfg.path(cfg.Paths.Transcripts), styleDim.Render(fmt.Sprintf("(keep %d)", cfg.Retention.Transcripts)))
	fmt.Fprintf(out, "  ├─ Runs:          %s %s\n", cfg.path(cfg.Paths.Runs), styleDim.Render(fmt.Sprintf("(keep %d)", cfg.Retention.Runs)))
	fmt.Fprintf(out, "  └─ Skills:        %s\n", cfg.path(cfg.Paths.Skills))
	fmt.Fprintln(out)

	// Outcomes
	recs, err := journal.Tail(cfg.path(cfg.Paths.Journal), 0)
	fmt.Fprintln(out, styleHeader.Render("Job Outcomes"))
	switch {
	case err != nil:
		fmt.Fprintf(out, "  └─ %s\n", styleFail.Render("journal unreadable: "+err.Error()))
	case len(recs) == 0:
		fmt.Fprintf(out, "  └─ %s\n", styleDim.Render("no finished jobs recorded"))
	default:
		fmt.Fprint(out, renderOutcomes(recs))
	}
	fmt.Fprintln(out)

	// Endpoints
	fmt.Fprintln(out, styleHeader.Render("Endpoints"))
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  ├─ Metrics: %s\n", styleOK.Render("enabled on http://"+cfg.Metrics.Addr+"/metrics"))
	} else {
		fmt.Fprintf(out, "  ├─ Metrics: %s\n", styleDim.Render("disabled"))
	}
	if addr == "" && cfg.GRPC.Enabled {
		addr = cfg.GRPC.Addr
	}
	if addr == "" {
		fmt.Fprintf(out, "  └─ gRPC:    %s\n", styleDim.Render("disabled"))
		return nil
	}
	fmt.Fprintf(out, "  └─ gRPC:    %s\n", addr)
	fmt.Fprintln(out)
	return showRemote(ctx, out, addr)
}

// showRemote queries a running server.
func showRemote(ctx context.Context, out io.Writer, addr string) error {
	client, conn, err := server.Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fmt.Fprintln(out, styleHeader.Render("Server"))
	healthy, err := client.Healthy(ctx)
	if err != nil {
		fmt.Fprintf(out, "  └─ %s\n", styleFail.Render("unreachable: "+err.Error()))
		return nil
	}
	if !healthy {
		fmt.Fprintf(out, "  └─ %s\n", styleWarn.Render("not serving"))
		return nil
	}
	jobs, err := client.List(ctx, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  ├─ Health:  %s\n", styleOK.Render("serving"))
	fmt.Fprintf(out, "  └─ Running: %d job(s)\n", len(jobs))
	for i, j := range jobs {
		branch := "├─"
		if i == len(jobs)-1 {
			branch = "└─"
		}
		fmt.Fprintf(out, "     %s job %s %s:%d-%d %s %s\n", branch, j.ID, j.DocumentID, j.StartLine, j.EndLine,
			orDash(j.Mode), styleDim.Render(time.Since(j.StartedAt).Round(time.Second).String()))
	}
	return nil
}

// renderOutcomes counts journal records per status.
func renderOutcomes(recs []journal.Record) string {
	counts := make(map[types.JobStatus]int)
	for _, r := range recs {
		counts[r.Status]++
	}
	order := []types.JobStatus{
		types.StatusSucceeded, types.StatusNoChange, types.StatusParseFailed,
		types.StatusBackendError, types.StatusEmptyOutput, types.StatusTimedOut, types.StatusCancelled,
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  ├─ Total:          %d\n", len(recs))
	for i, s := range order {
		branch := "├─"
		if i == len(order)-1 {
			branch = "└─"
		}
		fmt.Fprintf(&b, "  %s %s %d\n", branch, statusStyle(s).Render(fmt.Sprintf("%-15s", string(s)+":")), counts[s])
	}
	ok := counts[types.StatusSucceeded] + counts[types.StatusNoChange]
	fmt.Fprintf(&b, "  %s\n", styleDim.Render(fmt.Sprintf("success rate %.1f%%", float64(ok)/float64(len(recs))*100)))
	return b.String()
}

func backendDetail(cfg *Config) string {
	switch cfg.Backend.Kind {
	case "command":
		return strings.TrimSpace(cfg.Backend.Command + " " + strings.Join(cfg.Backend.Args, " "))
	default:
		key := "no API key"
		if cfg.Backend.APIKey != "" {
			key = "API key set"
		}
		return strings.TrimSpace(cfg.Backend.Model + " (" + key + ")")
	}
}
