package prompt

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/splice/pkg/types"
)

func testSelection() types.Selection {
	return types.Selection{
		DocumentID:   "main.go",
		StartLine:    3,
		EndLine:      5,
		OriginalText: "func f() int {\n\treturn 1\n}",
		Language:     "go",
	}
}

func fullInput() Input {
	return Input{
		Task:             "TASK-TEXT",
		Selection:        testSelection(),
		UserInstructions: "USER-TEXT",
		ProjectScope:     "SCOPE-TEXT",
		Skills:           []Skill{{Name: "style", Body: "SKILL-ONE"}, {Name: "tests", Body: "SKILL-TWO"}},
		Symbols:          []Symbol{{Name: "Helper", Kind: "func", File: "util.go", Line: 12, Excerpt: "func Helper() {}"}},
		LastRun:          &RunOutput{Command: "go test ./...", ExitCode: 1, Stderr: "RUN-STDERR", Duration: time.Second},
		IncludeRunOutput: true,
		EditorContext: []Section{
			{Title: SectionDiagnostics, Body: "DIAG-TEXT"},
		},
	}
}

func TestBuild_LayerOrder(t *testing.T) {
	out := Build(fullInput())

	markers := []string{
		"TASK-TEXT",
		"USER-TEXT",
		"SCOPE-TEXT",
		"### Skill: style",
		"SKILL-ONE",
		"SKILL-TWO",
		"### Helper (func) util.go:12",
		"RUN-STDERR",
		"DIAG-TEXT",
		"```go\nfunc f() int {",
		"## Output format",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(out, m)
		require.GreaterOrEqual(t, idx, 0, "missing %q", m)
		assert.Greater(t, idx, last, "%q out of order", m)
		last = idx
	}
}

func TestBuild_OmitsEmptyLayers(t *testing.T) {
	out := Build(Input{Task: "Do it.", Selection: testSelection()})

	for _, heading := range []string{"## Instructions", "## Project scope", "## Skills", "## Referenced symbols", "## Last run", "## Editor context"} {
		assert.NotContains(t, out, heading)
	}
	assert.Contains(t, out, "## Code to transform (lines 3-5)")
	assert.Contains(t, out, "## Output format")
	assert.NotContains(t, out, "\n\n\n", "no empty sections")
}

func TestBuild_BlankSkillsDropped(t *testing.T) {
	out := Build(Input{Selection: testSelection(), Skills: []Skill{{Name: "empty", Body: "  \n"}}})
	assert.NotContains(t, out, "## Skills")
}

func TestBuild_RunOutputOnlyWhenRequested(t *testing.T) {
	in := fullInput()
	in.IncludeRunOutput = false
	out := Build(in)
	assert.NotContains(t, out, "## Last run")
	assert.NotContains(t, out, "RUN-STDERR")

	in.IncludeRunOutput = true
	in.LastRun = nil
	assert.NotContains(t, Build(in), "## Last run")
}

func TestBuild_SymbolExcerptBounded(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	a := &Assembler{ExcerptLines: 3}
	out := a.Build(Input{
		Selection: testSelection(),
		Symbols:   []Symbol{{Name: "Big", Kind: "type", File: "big.go", Line: 1, Excerpt: strings.Join(lines, "\n")}},
	})
	assert.Contains(t, out, "line\nline\nline\n...")
	assert.Equal(t, 3, strings.Count(out, "line\n"))
}

func TestBuild_SourceFenceOutlastsBackticks(t *testing.T) {
	sel := testSelection()
	sel.Language = "markdown"
	sel.OriginalText = "Example:\n\n```go\nx := 1\n```\n\nMore with ````four````."
	out := Build(Input{Selection: sel})

	assert.Contains(t, out, "`````markdown\n"+sel.OriginalText+"\n`````\n")
	assert.Equal(t, "```", fence("no backticks"))
	assert.Equal(t, "````", fence("a ``` b"))
}

func TestBuild_RunOutputFenced(t *testing.T) {
	in := fullInput()
	in.LastRun.Stderr = "--- FAIL\n```\nwant 1\n```"
	out := Build(in)
	assert.Contains(t, out, "stderr:\n````\n"+in.LastRun.Stderr+"\n````\n")
}

func TestTruncateTail_KeepsRunesWhole(t *testing.T) {
	s := "error: naïve café ☕ failed"
	for n := 1; n < len(s); n++ {
		out := truncateTail(s, n)
		assert.True(t, utf8.ValidString(out), "n=%d produced %q", n, out)
		assert.True(t, strings.HasSuffix(s, strings.TrimPrefix(out, "...\n")))
		assert.LessOrEqual(t, len(strings.TrimPrefix(out, "...\n")), n)
	}
	assert.Equal(t, s, truncateTail(s, len(s)))
}

func TestBuild_Deterministic(t *testing.T) {
	assert.Equal(t, Build(fullInput()), Build(fullInput()))
}

func TestBuild_ContractUsesCommentPrefix(t *testing.T) {
	sel := testSelection()
	sel.Language = "lua"
	assert.Contains(t, Build(Input{Selection: sel}), "with the -- prefix")
}

func TestCommentPrefix(t *testing.T) {
	a := &Assembler{CommentPrefixes: map[string]string{"python": ";;"}}

	assert.Equal(t, ";;", a.CommentPrefix("Python"))
	assert.Equal(t, "#", a.CommentPrefix("sh"))
	assert.Equal(t, "//", a.CommentPrefix("go"))
	assert.Equal(t, "--", a.CommentPrefix("sql"))
	assert.Equal(t, "<!--", a.CommentPrefix("html"))
	assert.Equal(t, DefaultCommentPrefix, a.CommentPrefix("brainfuck"))
	assert.Equal(t, DefaultCommentPrefix, a.CommentPrefix(""))

	custom := &Assembler{DefaultCommentPrefix: "#"}
	assert.Equal(t, "#", custom.CommentPrefix("unknown"))
}

func TestFormatSections(t *testing.T) {
	out := FormatSections([]Section{
		{Title: SectionDiagnostics, Body: "E1"},
		{Title: SectionHover, Body: "   "},
		{Title: SectionSurrounding, Body: "ctx"},
	})
	assert.Equal(t, "### Diagnostics\n\nE1\n\n### Surrounding code\n\nctx", out)
	assert.Empty(t, FormatSections(nil))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeEdit, m)

	m, err = ParseMode("fix")
	require.NoError(t, err)
	assert.True(t, m.WantsRunOutput())
	assert.NotEmpty(t, m.Task())

	_, err = ParseMode("dance")
	assert.Error(t, err)
}
