// ============================================================================
// splice Output Extractor
// ============================================================================
//
// Package: internal/extract
// File: extract.go
// Purpose: Turn a raw model response into either accepted code or a
//          rejection reason. Pure: no I/O, no hidden state.
//
// Pipeline (first failing step short-circuits):
//   1. empty             - blank response
//   2. no_fence          - no fenced region at all (never falls back to raw text)
//   3. largest block     - longest fenced region wins, ties keep the first
//   4. monologue         - too many prose-opener lines inside the block
//   5. trim              - drop blank edge lines
//   6. suspicious_shrink - block collapsed far below the original size
//   7. accept
//
// ============================================================================

package extract

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Reason names why a response was rejected.
type Reason string

// Rejection reasons
const (
	ReasonEmpty            Reason = "empty"
	ReasonNoFence          Reason = "no_fence"
	ReasonMonologue        Reason = "monologue"
	ReasonSuspiciousShrink Reason = "suspicious_shrink"
)

// RejectedError is returned when the response does not yield usable code.
type RejectedError struct {
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return "extract: rejected (" + string(e.Reason) + ")"
	}
	return fmt.Sprintf("extract: rejected (%s): %s", e.Reason, e.Detail)
}

// Is lets errors.Is match on reason: errors.Is(err, &RejectedError{Reason: ReasonMonologue}).
func (e *RejectedError) Is(target error) bool {
	t, ok := target.(*RejectedError)
	if !ok {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Extractor applies the extraction pipeline with a given configuration.
// The zero value is not usable; build one with New.
type Extractor struct {
	cfg Config
}

// New builds an Extractor. Invalid or zero fields fall back to the defaults.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

var defaultExtractor = New(DefaultConfig())

// Extract runs the default pipeline.
func Extract(raw, original string) (string, error) {
	return defaultExtractor.Extract(raw, original)
}

// Extract returns the accepted code block or a *RejectedError.
func (x *Extractor) Extract(raw, original string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &RejectedError{Reason: ReasonEmpty}
	}

	blocks := FencedBlocks(raw)
	if len(blocks) == 0 {
		return "", &RejectedError{Reason: ReasonNoFence}
	}

	block := longest(blocks)

	if matched, total := x.proseLines(block); total > 0 &&
		float64(matched)/float64(total) > x.cfg.MonologueRatio {
		return "", &RejectedError{
			Reason: ReasonMonologue,
			Detail: fmt.Sprintf("%d of %d lines read as prose", matched, total),
		}
	}

	code := trimBlankLines(block)
	if code == "" {
		return "", &RejectedError{Reason: ReasonEmpty, Detail: "fenced block is blank"}
	}

	origLines := len(strings.Split(original, "\n"))
	codeLines := len(strings.Split(code, "\n"))
	if origLines > x.cfg.ShrinkMinLines && float64(codeLines) < float64(origLines)*x.cfg.ShrinkRatio {
		return "", &RejectedError{
			Reason: ReasonSuspiciousShrink,
			Detail: fmt.Sprintf("%d lines returned for a %d line selection", codeLines, origLines),
		}
	}

	return code, nil
}

// proseLines counts non-empty trimmed lines matching a prose opener.
func (x *Extractor) proseLines(block string) (matched, total int) {
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		total++
		for _, re := range x.cfg.ProsePatterns {
			if re.MatchString(line) {
				matched++
				break
			}
		}
	}
	return matched, total
}

// longest picks the block with the most characters; ties keep the first seen.
func longest(blocks []string) string {
	best := blocks[0]
	bestLen := utf8.RuneCountInString(best)
	for _, b := range blocks[1:] {
		if n := utf8.RuneCountInString(b); n > bestLen {
			best, bestLen = b, n
		}
	}
	return best
}

func trimBlankLines(block string) string {
	lines := strings.Split(block, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// Normalize collapses whitespace so that formatting-only differences compare
// equal. Whitespace survives (as a single space) only where it separates two
// word characters, e.g. "return 1"; around punctuation it is dropped, so
// "f(){" and "f() {" normalise identically. The comparison is lexical, not
// token-aware: "x - -y" and "x--y" also normalise identically, as do
// spacing changes inside string literals.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	var prev rune
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace && isWord(prev) && isWord(r) {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Equivalent reports whether two snippets differ only in whitespace.
func Equivalent(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
