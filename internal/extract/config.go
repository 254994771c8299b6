package extract

import (
	"fmt"
	"regexp"
)

// Default thresholds. These are empirically tuned; change them only with a
// response corpus to back the new values.
const (
	DefaultMonologueRatio = 0.4
	DefaultShrinkRatio    = 0.15
	DefaultShrinkMinLines = 5
)

// DefaultProsePatterns is the prose-opener table. Each pattern is matched
// against a trimmed, non-empty line of the selected block.
var DefaultProsePatterns = []string{
	`^I'll\s`,
	`^I'm\s`,
	`^I am\s`,
	`^I will\s`,
	`^I've\s`,
	`^I have\s`,
	`^I need to\b`,
	`^Let me\b`,
	`^Let's\s`,
	`^Here is\b`,
	`^Here's\b`,
	`^Here are\b`,
	`^This code\b`,
	`^The code\b`,
	`^This (function|change|version|fix|update|implementation)\b`,
	`^The (issue|problem|fix|change|function)\b`,
	`^First,`,
	`^Next,`,
	`^Then,`,
	`^Finally,`,
	`^Note:`,
	`^Looking at\b`,
	`^Based on\b`,
	`^To implement\b`,
	`^To fix\b`,
	`^Sure[,!.]`,
	`^Okay[,!.]`,
	`^Now,? (I|we|let)\b`,
	`^\d+\.\s+[A-Z][a-z]+\b`,
}

// Config tunes the extraction heuristics.
type Config struct {
	// ProsePatterns are compiled prose-opener regexps.
	ProsePatterns []*regexp.Regexp
	// MonologueRatio rejects a block whose prose-line share exceeds it.
	MonologueRatio float64
	// ShrinkRatio rejects a block shorter than this share of the original.
	ShrinkRatio float64
	// ShrinkMinLines is the original size above which the shrink guard applies.
	ShrinkMinLines int
}

// DefaultConfig returns the stock thresholds and pattern table.
func DefaultConfig() Config {
	return Config{
		ProsePatterns:  mustCompile(DefaultProsePatterns),
		MonologueRatio: DefaultMonologueRatio,
		ShrinkRatio:    DefaultShrinkRatio,
		ShrinkMinLines: DefaultShrinkMinLines,
	}
}

// CompilePatterns compiles a user-supplied pattern table.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("extract: bad prose pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (c Config) withDefaults() Config {
	if c.ProsePatterns == nil {
		c.ProsePatterns = mustCompile(DefaultProsePatterns)
	}
	if c.MonologueRatio <= 0 || c.MonologueRatio > 1 {
		c.MonologueRatio = DefaultMonologueRatio
	}
	if c.ShrinkRatio <= 0 || c.ShrinkRatio > 1 {
		c.ShrinkRatio = DefaultShrinkRatio
	}
	if c.ShrinkMinLines <= 0 {
		c.ShrinkMinLines = DefaultShrinkMinLines
	}
	return c
}

func mustCompile(patterns []string) []*regexp.Regexp {
	res, err := CompilePatterns(patterns)
	if err != nil {
		panic(err)
	}
	return res
}
