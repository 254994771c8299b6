// Package editor provides the documents jobs edit: in-memory buffers mirrored
// from an editor plugin, and files on disk for one-shot runs.
package editor

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ChuLiYu/splice/pkg/types"
)

var (
	// ErrNoDocument is returned for unknown document ids.
	ErrNoDocument = errors.New("editor: no such document")
	// ErrOutOfRange is returned when a line range falls outside the document.
	ErrOutOfRange = errors.New("editor: line range out of bounds")
	// ErrNothingToUndo is returned by Undo on a buffer with no history.
	ErrNothingToUndo = errors.New("editor: nothing to undo")
)

// DefaultUndoDepth bounds the undo history per buffer.
const DefaultUndoDepth = 100

// Edit describes one line-range replacement.
type Edit struct {
	DocumentID types.DocumentID `json:"document_id"`
	StartLine  int              `json:"start_line"`
	EndLine    int              `json:"end_line"` // end of the replaced range before the edit
	Lines      []string         `json:"lines"`
}

// Hook is a change side effect meant for human input (format on change,
// lint on change). Hooks can be suppressed per document.
type Hook func(doc types.DocumentID)

// Observer sees every edit, mechanical or not.
type Observer func(Edit)

type buffer struct {
	lines      []string
	undo       [][]string
	suppressed int
}

// Buffers is a set of in-memory documents.
type Buffers struct {
	mu        sync.Mutex
	docs      map[types.DocumentID]*buffer
	undoDepth int
	hooks     []Hook
	observers []Observer
}

// NewBuffers creates an empty buffer set.
func NewBuffers() *Buffers {
	return &Buffers{
		docs:      make(map[types.DocumentID]*buffer),
		undoDepth: DefaultUndoDepth,
	}
}

// AddHook registers a human-input change hook.
func (b *Buffers) AddHook(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, h)
}

// OnEdit registers an observer for every edit.
func (b *Buffers) OnEdit(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Open creates or replaces a document. It does not record undo history.
func (b *Buffers) Open(doc types.DocumentID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[doc] = &buffer{lines: types.SplitLines(text)}
}

// Set replaces the whole text of an open document, as typed by the user.
// Hooks fire unless suppressed.
func (b *Buffers) Set(doc types.DocumentID, text string) error {
	b.mu.Lock()
	buf, ok := b.docs[doc]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoDocument, doc)
	}
	old := len(buf.lines)
	b.pushUndo(buf)
	buf.lines = types.SplitLines(text)
	edit := Edit{DocumentID: doc, StartLine: 1, EndLine: old, Lines: cloneLines(buf.lines)}
	hooks, observers := b.callbacks(buf)
	b.mu.Unlock()

	notify(edit, hooks, observers)
	return nil
}

// Close forgets a document.
func (b *Buffers) Close(doc types.DocumentID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.docs[doc]
	delete(b.docs, doc)
	return ok
}

// Text returns the whole document.
func (b *Buffers) Text(doc types.DocumentID) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.docs[doc]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoDocument, doc)
	}
	return strings.Join(buf.lines, "\n"), nil
}

// LineCount returns the number of lines in doc.
func (b *Buffers) LineCount(doc types.DocumentID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.docs[doc]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoDocument, doc)
	}
	return len(buf.lines), nil
}

// ReadLines returns lines [start, end] joined with newlines.
func (b *Buffers) ReadLines(doc types.DocumentID, start, end int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.docs[doc]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoDocument, doc)
	}
	if start < 1 || end < start || end > len(buf.lines) {
		return "", fmt.Errorf("%w: %d-%d of %d", ErrOutOfRange, start, end, len(buf.lines))
	}
	return strings.Join(buf.lines[start-1:end], "\n"), nil
}

// ReplaceLines swaps lines [start, end] for lines in one step that Undo
// reverts as a unit. start may be len+1 to append. Returns the document's new
// line count.
func (b *Buffers) ReplaceLines(doc types.DocumentID, start, end int, lines []string) (int, error) {
	b.mu.Lock()
	buf, ok := b.docs[doc]
	if !ok {
		b.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNoDocument, doc)
	}
	n := len(buf.lines)
	if start < 1 || start > n+1 || end < start-1 || end > n {
		b.mu.Unlock()
		return 0, fmt.Errorf("%w: %d-%d of %d", ErrOutOfRange, start, end, n)
	}

	b.pushUndo(buf)
	next := make([]string, 0, n-(end-start+1)+len(lines))
	next = append(next, buf.lines[:start-1]...)
	next = append(next, lines...)
	next = append(next, buf.lines[end:]...)
	if len(next) == 0 {
		next = []string{""}
	}
	buf.lines = next
	count := len(next)

	edit := Edit{DocumentID: doc, StartLine: start, EndLine: end, Lines: cloneLines(lines)}
	hooks, observers := b.callbacks(buf)
	b.mu.Unlock()

	notify(edit, hooks, observers)
	return count, nil
}

// Undo reverts the most recent change to doc.
func (b *Buffers) Undo(doc types.DocumentID) error {
	b.mu.Lock()
	buf, ok := b.docs[doc]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoDocument, doc)
	}
	if len(buf.undo) == 0 {
		b.mu.Unlock()
		return ErrNothingToUndo
	}
	old := len(buf.lines)
	buf.lines = buf.undo[len(buf.undo)-1]
	buf.undo = buf.undo[:len(buf.undo)-1]
	edit := Edit{DocumentID: doc, StartLine: 1, EndLine: old, Lines: cloneLines(buf.lines)}
	hooks, observers := b.callbacks(buf)
	b.mu.Unlock()

	notify(edit, hooks, observers)
	return nil
}

// UndoDepth returns how many undo steps doc has.
func (b *Buffers) UndoDepth(doc types.DocumentID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.docs[doc]; ok {
		return len(buf.undo)
	}
	return 0
}

// SuppressHooks disables human-input hooks on doc until the returned func is
// called. Calls nest.
func (b *Buffers) SuppressHooks(doc types.DocumentID) func() {
	b.mu.Lock()
	buf, ok := b.docs[doc]
	if ok {
		buf.suppressed++
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			if !ok {
				return
			}
			b.mu.Lock()
			buf.suppressed--
			b.mu.Unlock()
		})
	}
}

// Suppressed reports whether hooks are currently off for doc.
func (b *Buffers) Suppressed(doc types.DocumentID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.docs[doc]
	return ok && buf.suppressed > 0
}

func (b *Buffers) pushUndo(buf *buffer) {
	buf.undo = append(buf.undo, buf.lines)
	if len(buf.undo) > b.undoDepth {
		buf.undo = buf.undo[len(buf.undo)-b.undoDepth:]
	}
}

// callbacks snapshots the callbacks to run once the lock is released.
func (b *Buffers) callbacks(buf *buffer) ([]Hook, []Observer) {
	var hooks []Hook
	if buf.suppressed == 0 {
		hooks = append(hooks, b.hooks...)
	}
	return hooks, append([]Observer(nil), b.observers...)
}

func notify(edit Edit, hooks []Hook, observers []Observer) {
	for _, o := range observers {
		o(edit)
	}
	for _, h := range hooks {
		h(edit.DocumentID)
	}
}

func cloneLines(lines []string) []string {
	return append([]string(nil), lines...)
}
