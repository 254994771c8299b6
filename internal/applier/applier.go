// ============================================================================
// splice Edit Applier
// ============================================================================
//
// Package: internal/applier
// File: applier.go
// Purpose: Replace a job's line range with accepted code in one atomic edit,
//          then shift every sibling job on the same document that starts
//          after the edited region.
//
// Steps:
//   1. suppress human-input change hooks on the document (restored on return)
//   2. clamp end to the document's current line count
//   3. ReplaceLines as a single edit (one undo step)
//   4. delta = new lines - old lines; ShiftAfter(job, doc, end, delta)
//
// The caller (runner) holds its coordination lock across Apply, so no
// overlap check can observe the document edited but siblings not yet shifted.
// ============================================================================

package applier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/splice/pkg/types"
)

// ErrRangeGone is returned when the whole range lies past the end of a
// document that shrank after the job started.
var ErrRangeGone = errors.New("applier: range no longer exists in document")

// Document is the editor surface edits are applied through.
type Document interface {
	ReadLines(doc types.DocumentID, start, end int) (string, error)
	ReplaceLines(doc types.DocumentID, start, end int, lines []string) (int, error)
	LineCount(doc types.DocumentID) (int, error)
}

// HookSuppressor turns off human-input change hooks for a document until the
// returned restore func runs.
type HookSuppressor interface {
	SuppressHooks(doc types.DocumentID) (restore func())
}

// Shifter moves sibling job ranges.
type Shifter interface {
	ShiftAfter(excluding types.JobID, doc types.DocumentID, boundary, delta int) int
}

// Result describes an applied edit.
type Result struct {
	Start   int // first replaced line
	End     int // last replaced line after clamping
	Lines   int // lines written
	Delta   int // change in document line count
	Shifted int // sibling jobs moved
}

// Applier applies accepted code to documents.
type Applier struct {
	docs     Document
	shifter  Shifter
	suppress HookSuppressor
}

// New creates an applier. If docs implements HookSuppressor, hooks are
// suppressed around each edit.
func New(docs Document, shifter Shifter) *Applier {
	a := &Applier{docs: docs, shifter: shifter}
	if s, ok := docs.(HookSuppressor); ok {
		a.suppress = s
	}
	return a
}

// Apply replaces lines [start, end] of doc with newText.
func (a *Applier) Apply(job types.JobID, doc types.DocumentID, start, end int, newText string) (Result, error) {
	if a.suppress != nil {
		restore := a.suppress.SuppressHooks(doc)
		defer restore()
	}

	count, err := a.docs.LineCount(doc)
	if err != nil {
		return Result{}, fmt.Errorf("applier: line count: %w", err)
	}
	if start < 1 || start > count {
		return Result{}, fmt.Errorf("%w: start %d, document has %d lines", ErrRangeGone, start, count)
	}
	if end > count {
		end = count
	}
	if end < start {
		end = start
	}

	lines := splitText(newText)
	if _, err := a.docs.ReplaceLines(doc, start, end, lines); err != nil {
		return Result{}, fmt.Errorf("applier: replace lines %d-%d: %w", start, end, err)
	}

	res := Result{
		Start: start,
		End:   end,
		Lines: len(lines),
		Delta: len(lines) - (end - start + 1),
	}
	if a.shifter != nil {
		res.Shifted = a.shifter.ShiftAfter(job, doc, end, res.Delta)
	}
	return res, nil
}

// splitText splits accepted code into lines, dropping one trailing newline.
func splitText(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
