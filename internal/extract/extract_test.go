package extract

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fence(lang, body string) string {
	return "```" + lang + "\n" + body + "\n```"
}

func numbered(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("x%d := %d", i, i)
	}
	return strings.Join(lines, "\n")
}

func assertReason(t *testing.T, err error, want Reason) {
	t.Helper()
	require.Error(t, err)
	var rej *RejectedError
	require.True(t, errors.As(err, &rej), "want *RejectedError, got %T", err)
	assert.Equal(t, want, rej.Reason)
}

// ============================================================================
// Rejections
// ============================================================================

func TestExtract_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t\n"} {
		_, err := Extract(raw, "x := 1")
		assertReason(t, err, ReasonEmpty)
	}
}

func TestExtract_NoFenceNeverFallsBack(t *testing.T) {
	inputs := []string{
		"x := 1",
		"func f() {\n\treturn 1\n}",
		"Sure, change it to `x := 2`.",
		"``not a fence``\nx := 2",
	}
	for _, raw := range inputs {
		code, err := Extract(raw, "x := 1")
		assertReason(t, err, ReasonNoFence)
		assert.Empty(t, code)
	}
}

func TestExtract_Monologue(t *testing.T) {
	body := strings.Join([]string{
		"I'll restructure the loop.",
		"Let me check the bounds first.",
		"Here is the plan.",
		"Note: nothing else changes.",
		"I need to keep the signature.",
	}, "\n")

	_, err := Extract(fence("", body), "for i := 0; i < n; i++ {}")
	assertReason(t, err, ReasonMonologue)
	assert.True(t, errors.Is(err, &RejectedError{Reason: ReasonMonologue}))
}

func TestExtract_MonologueRatioBoundary(t *testing.T) {
	// 2 of 5 lines is exactly 0.4 and must pass; 3 of 5 must not.
	accepted := "I'll do it\nHere is it\nx := 1\ny := 2\nz := 3"
	_, err := Extract(fence("go", accepted), "x := 0")
	require.NoError(t, err)

	rejected := "I'll do it\nHere is it\nNote: done\ny := 2\nz := 3"
	_, err = Extract(fence("go", rejected), "x := 0")
	assertReason(t, err, ReasonMonologue)
}

func TestExtract_ProseWrappedSingleLine(t *testing.T) {
	raw := "```\nI'll fix this:\nx = 1\n```  "

	code, err := Extract(raw, "x=1")
	assertReason(t, err, ReasonMonologue)
	assert.Empty(t, code)
}

func TestExtract_SuspiciousShrink(t *testing.T) {
	original := numbered(20)

	_, err := Extract(fence("go", numbered(2)), original)
	assertReason(t, err, ReasonSuspiciousShrink)

	code, err := Extract(fence("go", numbered(4)), original)
	require.NoError(t, err)
	assert.Equal(t, numbered(4), code)
}

func TestExtract_ShrinkGuardIgnoresSmallSelections(t *testing.T) {
	code, err := Extract(fence("go", "x := 1"), numbered(5))
	require.NoError(t, err)
	assert.Equal(t, "x := 1", code)
}

func TestExtract_BlankBlockRejected(t *testing.T) {
	_, err := Extract("```go\n\n   \n```", "x := 1")
	assertReason(t, err, ReasonEmpty)
}

// ============================================================================
// Selection
// ============================================================================

func TestExtract_LongestBlockWins(t *testing.T) {
	short := "y := 2 // ok"
	long := strings.Repeat("result = compute(a, b) + offset\n", 6) + "return result"
	require.Len(t, short, 12)

	raw := "Example:\n" + fence("go", short) + "\nFull answer:\n" + fence("go", long)

	code, err := Extract(raw, numbered(3))
	require.NoError(t, err)
	if diff := cmp.Diff(long, code); diff != "" {
		t.Errorf("selected block mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_TieKeepsFirst(t *testing.T) {
	raw := fence("", "a := 1") + "\n" + fence("", "b := 2")
	code, err := Extract(raw, "a := 0")
	require.NoError(t, err)
	assert.Equal(t, "a := 1", code)
}

func TestExtract_TrimsBlankEdgeLines(t *testing.T) {
	raw := "```python\n\n\n    return x\n\n```"
	code, err := Extract(raw, "return y")
	require.NoError(t, err)
	assert.Equal(t, "    return x", code)
}

func TestExtract_TildeFenceAndLooseCloser(t *testing.T) {
	code, err := Extract("~~~~lua\nlocal x = 1\n~~~", "local x = 0")
	require.NoError(t, err)
	assert.Equal(t, "local x = 1", code)
}

func TestExtract_UnterminatedFence(t *testing.T) {
	code, err := Extract("Here:\n```go\nx := 2\n", "x := 1")
	require.NoError(t, err)
	assert.Equal(t, "x := 2", code)
}

func TestExtract_Idempotent(t *testing.T) {
	raw := "Done.\n" + fence("go", "func f() int {\n\treturn 2\n}")
	first, err := Extract(raw, "func f() int {\n\treturn 1\n}")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := Extract(raw, "func f() int {\n\treturn 1\n}")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExtract_CustomConfig(t *testing.T) {
	patterns, err := CompilePatterns([]string{`^TODO`})
	require.NoError(t, err)

	x := New(Config{ProsePatterns: patterns})
	_, err = x.Extract(fence("", "TODO one\nTODO two\nx := 1"), "x := 0")
	assertReason(t, err, ReasonMonologue)

	// The stock table does not know this opener.
	_, err = Extract(fence("", "TODO one\nTODO two\nx := 1"), "x := 0")
	require.NoError(t, err)
}

func TestCompilePatterns_Invalid(t *testing.T) {
	_, err := CompilePatterns([]string{"("})
	assert.Error(t, err)
}

// ============================================================================
// Fences & normalisation
// ============================================================================

func TestFencedBlocks(t *testing.T) {
	raw := strings.Join([]string{
		"intro",
		"```go",
		"a",
		"```",
		"middle ```inline``` text",
		"  ~~~",
		"b",
		"~~~",
	}, "\n")

	got := FencedBlocks(raw)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestFencedBlocks_IgnoresOtherFenceCharAsCloser(t *testing.T) {
	got := FencedBlocks("```\nx\n~~~\ny\n```")
	assert.Equal(t, []string{"x\n~~~\ny"}, got)
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		a, b  string
		equal bool
	}{
		{"func f(){\n  return 1\n}", "func f() {\n    return 1\n}", true},
		{"x=1", "x = 1", true},
		{"return x", "returnx", false},
		{"a  b", "a b", true},
		{"x := 1", "x := 2", false},
		// Spacing between punctuation is not significant, even where a
		// tokenizer would disagree: such a reply is reported as no_change.
		{"x - -y", "x--y", true},
		{`s := "a b"`, `s := "a  b"`, true},
		{`s := "a,b"`, `s := "a, b"`, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.equal, Equivalent(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
	assert.Equal(t, "func f(){return 1}", Normalize("  func f() {\n\treturn 1\n}\n"))
}
