// Package types defines the core domain model shared by the splice job pipeline.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobID identifies one job for the lifetime of the process. Ids are handed
// out in increasing order and never reused.
type JobID uint64

// String renders the id the way it appears in notifications and file names.
func (id JobID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// DocumentID identifies an editor buffer (or a file path for on-disk documents).
type DocumentID string

// JobStatus is a job's position in the lifecycle state machine.
type JobStatus string

// Job states
const (
	StatusPending      JobStatus = "pending"       // accepted, backend not yet spawned
	StatusRunning      JobStatus = "running"       // backend in flight
	StatusSucceeded    JobStatus = "succeeded"     // edit applied
	StatusNoChange     JobStatus = "no_change"     // accepted code equals the original after normalisation
	StatusParseFailed  JobStatus = "parse_failed"  // extractor rejected the response
	StatusBackendError JobStatus = "backend_error" // spawn failure, non-zero exit or transport error
	StatusEmptyOutput  JobStatus = "empty_output"  // backend succeeded with zero bytes
	StatusTimedOut     JobStatus = "timed_out"     // per-job timer fired first
	StatusCancelled    JobStatus = "cancelled"     // cancelled by the user
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusNoChange, StatusParseFailed, StatusBackendError,
		StatusEmptyOutput, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrInvalidSelection is returned for selections with a malformed line range.
var ErrInvalidSelection = errors.New("invalid selection")

// Selection is the immutable snapshot of what the user asked to transform.
type Selection struct {
	DocumentID   DocumentID `json:"document_id"`
	StartLine    int        `json:"start_line"`    // 1-based, inclusive
	EndLine      int        `json:"end_line"`      // 1-based, inclusive
	OriginalText string     `json:"original_text"` // exact source of the lines, newline-joined
	Language     string     `json:"language"`      // free-form tag, may be empty
}

// Validate checks the range invariants.
func (s Selection) Validate() error {
	if s.DocumentID == "" {
		return fmt.Errorf("%w: empty document id", ErrInvalidSelection)
	}
	if s.StartLine < 1 {
		return fmt.Errorf("%w: start line %d < 1", ErrInvalidSelection, s.StartLine)
	}
	if s.EndLine < s.StartLine {
		return fmt.Errorf("%w: end line %d before start line %d", ErrInvalidSelection, s.EndLine, s.StartLine)
	}
	return nil
}

// LineCount returns the number of lines spanned by the range.
func (s Selection) LineCount() int {
	return s.EndLine - s.StartLine + 1
}

// Job is the mutable record of one in-flight transformation.
type Job struct {
	ID         JobID      `json:"id"`
	DocumentID DocumentID `json:"document_id"`
	StartLine  int        `json:"start_line"` // current range, shifted as sibling edits land
	EndLine    int        `json:"end_line"`
	Status     JobStatus  `json:"status"`
	Mode       string     `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
}

// Overlaps reports whether the inclusive ranges [start, end] and the job's
// current range share at least one line.
func (j Job) Overlaps(start, end int) bool {
	return start <= j.EndLine && end >= j.StartLine
}

// LineRange is an inclusive 1-based line span.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// String renders the range as "start-end".
func (r LineRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// SplitLines splits text on newlines. An empty string yields one empty line,
// matching how editors report an empty buffer.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}
