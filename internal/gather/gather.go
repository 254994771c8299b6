// ============================================================================
// splice Context Gatherer
// ============================================================================
//
// Package: internal/gather
// File: gather.go
// Purpose: Collect every context layer for one job before the prompt is
//          assembled.
//
// Lookups run concurrently on an errgroup:
//   - skills named by the request, plus the project scope document
//   - cross-file symbols
//   - the last recorded build/test run (only when the mode wants it)
//   - surrounding lines from the open document
//
// A source that fails or cannot find something adds a warning. Only a
// cancelled context fails the gather.
// ============================================================================

package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/splice/internal/lastrun"
	"github.com/ChuLiYu/splice/internal/prompt"
	"github.com/ChuLiYu/splice/pkg/types"
)

// DefaultSurroundingLines is how many lines on each side of the selection
// are quoted when the editor did not send its own surrounding-code section.
const DefaultSurroundingLines = 20

// SkillSource serves skill documents and the project scope.
type SkillSource interface {
	Resolve(names []string) ([]prompt.Skill, []string)
	Project() (string, error)
}

// SymbolSource resolves cross-file definitions.
type SymbolSource interface {
	Resolve(ctx context.Context, names []string) ([]prompt.Symbol, []string, error)
}

// RunSource returns the most recent recorded run.
type RunSource interface {
	Last(ctx context.Context) (lastrun.Run, error)
}

// Document reads lines from an open document.
type Document interface {
	ReadLines(doc types.DocumentID, start, end int) (string, error)
	LineCount(doc types.DocumentID) (int, error)
}

// Request describes what to gather for one job.
type Request struct {
	Selection    types.Selection
	Mode         prompt.Mode
	Instructions string
	Skills       []string
	Symbols      []string
	Context      []prompt.Section // sent by the editor as-is

	// IncludeRunOutput forces the last run into the prompt regardless of mode.
	IncludeRunOutput bool
}

// Config wires the sources. Any source may be nil.
type Config struct {
	Skills           SkillSource
	Symbols          SymbolSource
	Runs             RunSource
	Documents        Document
	SurroundingLines int
	Logger           *slog.Logger
}

// Gatherer fans out context lookups.
type Gatherer struct {
	cfg Config
}

// New returns a gatherer over cfg.
func New(cfg Config) *Gatherer {
	if cfg.SurroundingLines <= 0 {
		cfg.SurroundingLines = DefaultSurroundingLines
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gatherer{cfg: cfg}
}

// Gather resolves every layer and returns the prompt input plus warnings.
func (g *Gatherer) Gather(ctx context.Context, req Request) (prompt.Input, []string, error) {
	mode := req.Mode
	if mode == "" {
		mode = prompt.ModeEdit
	}
	in := prompt.Input{
		Task:             mode.Task(),
		Selection:        req.Selection,
		UserInstructions: req.Instructions,
		IncludeRunOutput: req.IncludeRunOutput || mode.WantsRunOutput(),
	}

	var (
		mu       sync.Mutex
		warnings []string
	)
	warn := func(format string, args ...any) {
		mu.Lock()
		warnings = append(warnings, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if g.cfg.Skills != nil {
		eg.Go(func() error {
			if len(req.Skills) > 0 {
				skills, missing := g.cfg.Skills.Resolve(req.Skills)
				in.Skills = skills
				for _, name := range missing {
					warn("skill %q not found", name)
				}
			}
			scope, err := g.cfg.Skills.Project()
			if err != nil {
				warn("project scope unavailable: %v", err)
			}
			in.ProjectScope = scope
			return nil
		})
	} else if len(req.Skills) > 0 {
		warn("no skill store configured; ignoring %d skill(s)", len(req.Skills))
	}

	if len(req.Symbols) > 0 {
		if g.cfg.Symbols == nil {
			warn("no symbol resolver configured; ignoring %d symbol(s)", len(req.Symbols))
		} else {
			eg.Go(func() error {
				syms, missing, err := g.cfg.Symbols.Resolve(egCtx, req.Symbols)
				if err != nil {
					if ctxErr := egCtx.Err(); ctxErr != nil {
						return ctxErr
					}
					warn("symbol lookup failed: %v", err)
					return nil
				}
				in.Symbols = syms
				for _, name := range missing {
					warn("symbol %q not found", name)
				}
				return nil
			})
		}
	}

	if in.IncludeRunOutput && g.cfg.Runs != nil {
		eg.Go(func() error {
			run, err := g.cfg.Runs.Last(egCtx)
			switch {
			case err == nil:
				in.LastRun = run.Output()
			case errors.Is(err, lastrun.ErrNoRun):
				warn("no recorded run to include")
			default:
				if ctxErr := egCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				warn("last run unavailable: %v", err)
			}
			return nil
		})
	}

	var surrounding *prompt.Section
	if g.cfg.Documents != nil && !hasSection(req.Context, prompt.SectionSurrounding) {
		eg.Go(func() error {
			s, err := g.surrounding(req.Selection)
			if err != nil {
				g.cfg.Logger.Debug("surrounding lines unavailable", "document", req.Selection.DocumentID, "error", err)
				return nil
			}
			surrounding = s
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return prompt.Input{}, warnings, err
	}
	if err := ctx.Err(); err != nil {
		return prompt.Input{}, warnings, err
	}

	in.EditorContext = append(in.EditorContext, req.Context...)
	if surrounding != nil {
		in.EditorContext = append(in.EditorContext, *surrounding)
	}
	return in, warnings, nil
}

// surrounding quotes the lines around the selection with the selection
// itself elided.
func (g *Gatherer) surrounding(sel types.Selection) (*prompt.Section, error) {
	total, err := g.cfg.Documents.LineCount(sel.DocumentID)
	if err != nil {
		return nil, err
	}
	n := g.cfg.SurroundingLines
	var parts []string
	if sel.StartLine > 1 {
		before, err := g.cfg.Documents.ReadLines(sel.DocumentID, max(1, sel.StartLine-n), sel.StartLine-1)
		if err != nil {
			return nil, err
		}
		parts = append(parts, before)
	}
	parts = append(parts, "... selection ...")
	if sel.EndLine < total {
		after, err := g.cfg.Documents.ReadLines(sel.DocumentID, sel.EndLine+1, min(total, sel.EndLine+n))
		if err != nil {
			return nil, err
		}
		parts = append(parts, after)
	}
	if len(parts) == 1 {
		return nil, errors.New("selection covers the whole document")
	}
	return &prompt.Section{Title: prompt.SectionSurrounding, Body: strings.Join(parts, "\n")}, nil
}

func hasSection(sections []prompt.Section, title string) bool {
	for _, s := range sections {
		if s.Title == title {
			return true
		}
	}
	return false
}
