// ============================================================================
// splice Prompt Assembler
// ============================================================================
//
// Package: internal/prompt
// File: prompt.go
// Purpose: Compose the context layers gathered for a job into one prompt.
//
// Layer order (fixed, empty layers are dropped together with their heading):
//   1. task instruction
//   2. user instructions
//   3. project scope
//   4. skills, one heading per document
//   5. resolved cross-file symbols
//   6. last build/test run (only when IncludeRunOutput is set)
//   7. editor context sections
//   8. the fenced source under transformation
//   9. output contract
//
// Build is pure: no I/O, identical input gives identical output.
// ============================================================================

package prompt

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChuLiYu/splice/pkg/types"
)

// DefaultExcerptLines bounds how many lines of each symbol's source are quoted.
const DefaultExcerptLines = 40

// DefaultRunOutputBytes bounds the stdout/stderr quoted from the last run.
const DefaultRunOutputBytes = 8 * 1024

// Skill is one guideline document.
type Skill struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// Symbol is a resolved cross-file definition.
type Symbol struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Excerpt string `json:"excerpt"`
}

// RunOutput is the most recent external build/test command.
type RunOutput struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Input is everything Build needs for one job.
type Input struct {
	Task             string
	Selection        types.Selection
	EditorContext    []Section
	UserInstructions string
	ProjectScope     string
	Skills           []Skill
	Symbols          []Symbol
	LastRun          *RunOutput
	IncludeRunOutput bool
}

// Assembler holds the settings that shape every prompt.
type Assembler struct {
	// CommentPrefixes overrides the built-in language table.
	CommentPrefixes map[string]string
	// DefaultCommentPrefix is used for unknown languages.
	DefaultCommentPrefix string
	// ExcerptLines bounds each symbol excerpt.
	ExcerptLines int
	// RunOutputBytes bounds each last-run stream.
	RunOutputBytes int
}

// Build renders in with the zero-value Assembler.
func Build(in Input) string {
	return (&Assembler{}).Build(in)
}

// Build composes the prompt text.
func (a *Assembler) Build(in Input) string {
	var layers []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			layers = append(layers, s)
		}
	}

	add(in.Task)
	if text := strings.TrimSpace(in.UserInstructions); text != "" {
		add("## Instructions\n\n" + text)
	}
	if text := strings.TrimSpace(in.ProjectScope); text != "" {
		add("## Project scope\n\n" + text)
	}
	add(a.skills(in.Skills))
	add(a.symbols(in.Symbols))
	if in.IncludeRunOutput {
		add(a.lastRun(in.LastRun))
	}
	if ctx := FormatSections(in.EditorContext); ctx != "" {
		add("## Editor context\n\n" + ctx)
	}
	add(a.source(in.Selection))
	add(a.contract(in.Selection.Language))

	return strings.Join(layers, "\n\n") + "\n"
}

func (a *Assembler) skills(skills []Skill) string {
	var sb strings.Builder
	for _, s := range skills {
		body := strings.TrimSpace(s.Body)
		if body == "" {
			continue
		}
		name := s.Name
		if name == "" {
			name = "guideline"
		}
		fmt.Fprintf(&sb, "### Skill: %s\n\n%s\n\n", name, body)
	}
	if sb.Len() == 0 {
		return ""
	}
	return "## Skills\n\n" + sb.String()
}

func (a *Assembler) symbols(symbols []Symbol) string {
	if len(symbols) == 0 {
		return ""
	}
	limit := a.ExcerptLines
	if limit <= 0 {
		limit = DefaultExcerptLines
	}

	var sb strings.Builder
	sb.WriteString("## Referenced symbols\n\n")
	sb.WriteString("These definitions already exist elsewhere in the project. Reuse them, do not redefine them.\n")
	for _, s := range symbols {
		fmt.Fprintf(&sb, "\n### %s (%s) %s:%d\n", s.Name, s.Kind, s.File, s.Line)
		if excerpt := truncateLines(s.Excerpt, limit); excerpt != "" {
			f := fence(excerpt)
			sb.WriteString(f + "\n" + excerpt + "\n" + f + "\n")
		}
	}
	return sb.String()
}

func (a *Assembler) lastRun(run *RunOutput) string {
	if run == nil || run.Command == "" {
		return ""
	}
	limit := a.RunOutputBytes
	if limit <= 0 {
		limit = DefaultRunOutputBytes
	}

	var sb strings.Builder
	sb.WriteString("## Last run\n\n")
	fmt.Fprintf(&sb, "Command: %s\nExit code: %d\n", run.Command, run.ExitCode)
	if run.Duration > 0 {
		fmt.Fprintf(&sb, "Duration: %s\n", run.Duration.Round(time.Millisecond))
	}
	if out := truncateTail(run.Stdout, limit); out != "" {
		f := fence(out)
		sb.WriteString("\nstdout:\n" + f + "\n" + out + "\n" + f + "\n")
	}
	if out := truncateTail(run.Stderr, limit); out != "" {
		f := fence(out)
		sb.WriteString("\nstderr:\n" + f + "\n" + out + "\n" + f + "\n")
	}
	sb.WriteString("\nFix the errors shown above.")
	return sb.String()
}

func (a *Assembler) source(sel types.Selection) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Code to transform (lines %d-%d)\n\n", sel.StartLine, sel.EndLine)
	f := fence(sel.OriginalText)
	sb.WriteString(f + sel.Language + "\n")
	sb.WriteString(sel.OriginalText)
	sb.WriteString("\n" + f)
	return sb.String()
}

// fence returns a backtick fence longer than any backtick run in s, so
// Markdown sources cannot close it early.
func fence(s string) string {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] != '`' {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	return strings.Repeat("`", max(3, longest+1))
}

// outputContract is appended to every prompt. %[1]s is the comment prefix.
const outputContract = `## Output format

- Respond with exactly one fenced code block and nothing else.
- Do not add imports, functions, types or helpers that were not asked for.
- The block replaces the same lines it was given; keep it a drop-in replacement.
- Write any comments with the %[1]s prefix.
- If no change is needed, return the original code unchanged, still fenced.`

func (a *Assembler) contract(language string) string {
	return fmt.Sprintf(outputContract, a.CommentPrefix(language))
}

// truncateLines keeps the first n lines of s.
func truncateLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}

// truncateTail keeps the last n bytes of s, where errors usually are.
func truncateTail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "...\n" + s[cut:]
}
