package editor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ChuLiYu/splice/pkg/types"
)

// Files edits documents on disk. A DocumentID is a file path. Writes go to a
// temp file in the same directory and are renamed over the original.
type Files struct {
	mu sync.Mutex
}

// NewFiles creates a file-backed document store.
func NewFiles() *Files {
	return &Files{}
}

func (f *Files) load(doc types.DocumentID) ([]string, bool, error) {
	data, err := os.ReadFile(string(doc))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("%w: %s", ErrNoDocument, doc)
		}
		return nil, false, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	trailing := strings.HasSuffix(text, "\n")
	if trailing {
		text = text[:len(text)-1]
	}
	return types.SplitLines(text), trailing, nil
}

// LineCount returns the number of lines in the file.
func (f *Files) LineCount(doc types.DocumentID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, _, err := f.load(doc)
	return len(lines), err
}

// ReadLines returns lines [start, end] of the file.
func (f *Files) ReadLines(doc types.DocumentID, start, end int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, _, err := f.load(doc)
	if err != nil {
		return "", err
	}
	if start < 1 || end < start || end > len(lines) {
		return "", fmt.Errorf("%w: %d-%d of %d", ErrOutOfRange, start, end, len(lines))
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

// ReplaceLines rewrites lines [start, end] and returns the new line count.
// The file's trailing newline and permissions are preserved.
func (f *Files) ReplaceLines(doc types.DocumentID, start, end int, repl []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, trailing, err := f.load(doc)
	if err != nil {
		return 0, err
	}
	n := len(lines)
	if start < 1 || start > n+1 || end < start-1 || end > n {
		return 0, fmt.Errorf("%w: %d-%d of %d", ErrOutOfRange, start, end, n)
	}

	next := make([]string, 0, n-(end-start+1)+len(repl))
	next = append(next, lines[:start-1]...)
	next = append(next, repl...)
	next = append(next, lines[end:]...)

	text := strings.Join(next, "\n")
	if trailing {
		text += "\n"
	}
	if err := writeAtomic(string(doc), []byte(text)); err != nil {
		return 0, err
	}
	return len(next), nil
}

// SuppressHooks is a no-op; files have no change hooks.
func (f *Files) SuppressHooks(types.DocumentID) func() {
	return func() {}
}

// writeAtomic writes data to a temp file beside path and renames it into
// place so a crash never leaves a half-written file.
func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("editor: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("editor: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("editor: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("editor: rename temp file: %w", err)
	}
	return nil
}
