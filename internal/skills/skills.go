// ============================================================================
// splice Skill Store
// ============================================================================
//
// Package: internal/skills
// File: skills.go
// Purpose: Serve skill documents (<dir>/<name>.md) and the project scope
//          document (project.md) to the context gatherer.
//
// Documents are read lazily and cached. Watch installs an fsnotify watcher
// on the directory; any event touching a cached file drops that entry so the
// next read sees the new content.
// ============================================================================

package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ChuLiYu/splice/internal/prompt"
)

// ProjectFile is the project scope document inside the skill directory.
const ProjectFile = "project.md"

const ext = ".md"

var (
	// ErrNotFound is returned for a skill with no backing file.
	ErrNotFound = errors.New("skills: not found")

	// ErrInvalidName is returned for names that would escape the directory.
	ErrInvalidName = errors.New("skills: invalid name")

	// ErrWatching is returned when Watch is called twice.
	ErrWatching = errors.New("skills: already watching")
)

type cached struct {
	body    string
	missing bool
}

// Store caches skill documents from a single directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cached // keyed by file base name

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New returns a store over dir. The directory may not exist yet.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]cached),
	}
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// Get returns the named skill.
func (s *Store) Get(name string) (prompt.Skill, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ext)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return prompt.Skill{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	body, ok, err := s.read(name + ext)
	if err != nil {
		return prompt.Skill{}, err
	}
	if !ok {
		return prompt.Skill{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return prompt.Skill{Name: name, Body: body}, nil
}

// Resolve looks up every name and reports the ones that could not be read.
func (s *Store) Resolve(names []string) ([]prompt.Skill, []string) {
	var (
		out     []prompt.Skill
		missing []string
	)
	for _, n := range names {
		sk, err := s.Get(n)
		if err != nil {
			missing = append(missing, n)
			continue
		}
		out = append(out, sk)
	}
	return out, missing
}

// Project returns project.md, or "" when the file does not exist.
func (s *Store) Project() (string, error) {
	body, _, err := s.read(ProjectFile)
	return body, err
}

// Names lists available skills, sorted. project.md is not a skill.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("skills: list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) || e.Name() == ProjectFile {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) read(base string) (string, bool, error) {
	s.mu.RLock()
	c, hit := s.cache[base]
	s.mu.RUnlock()
	if hit {
		return c.body, !c.missing, nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, base))
	switch {
	case err == nil:
		c = cached{body: strings.TrimRight(string(data), "\n")}
	case os.IsNotExist(err):
		c = cached{missing: true}
	default:
		return "", false, fmt.Errorf("skills: read %s: %w", base, err)
	}

	s.mu.Lock()
	s.cache[base] = c
	s.mu.Unlock()
	return c.body, !c.missing, nil
}

// Invalidate drops the cached copy of a file (base name), or everything when base is "".
func (s *Store) Invalidate(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if base == "" {
		clear(s.cache)
		return
	}
	delete(s.cache, base)
}

// Watch starts invalidating the cache on filesystem events until ctx is
// done or Close is called. It creates the directory if needed.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return ErrWatching
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("skills: create %s: %w", s.dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("skills: watch %s: %w", s.dir, err)
	}
	s.watcher = w
	s.done = make(chan struct{})
	// Anything cached before the watch started may already be stale.
	clear(s.cache)

	go s.run(ctx, w, s.done)
	return nil
}

func (s *Store) run(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ext) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug("skill document changed", "file", ev.Name, "op", ev.Op.String())
			s.Invalidate(filepath.Base(ev.Name))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("skill watcher error", "error", err)
		}
	}
}

// Close stops the watcher, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	w, done := s.watcher, s.done
	s.watcher, s.done = nil, nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
