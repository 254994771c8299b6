package skills

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/splice/internal/prompt"
)

// ===== Test Helper Functions =====

func newTestStore(t *testing.T, files map[string]string) *Store {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return New(dir, slog.New(slog.DiscardHandler))
}

func write(t *testing.T, s *Store, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), name), []byte(body), 0o644))
}

// ===== Tests =====

func TestGet(t *testing.T) {
	s := newTestStore(t, map[string]string{"go-style.md": "Use gofmt.\n"})

	sk, err := s.Get("go-style")
	require.NoError(t, err)
	assert.Equal(t, prompt.Skill{Name: "go-style", Body: "Use gofmt."}, sk)

	sk, err = s.Get("go-style.md")
	require.NoError(t, err)
	assert.Equal(t, "go-style", sk.Name)
}

func TestGetMissingAndInvalid(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, name := range []string{"", "../etc/passwd", "a/b", ".."} {
		_, err := s.Get(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestResolve(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.md": "A", "b.md": "B"})

	got, missing := s.Resolve([]string{"a", "zzz", "b"})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, []string{"zzz"}, missing)
}

func TestProject(t *testing.T) {
	s := newTestStore(t, nil)
	body, err := s.Project()
	require.NoError(t, err)
	assert.Empty(t, body)

	s = newTestStore(t, map[string]string{ProjectFile: "Monorepo, Go 1.24\n\n"})
	body, err = s.Project()
	require.NoError(t, err)
	assert.Equal(t, "Monorepo, Go 1.24", body)
}

func TestNames(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"z.md":      "",
		"a.md":      "",
		ProjectFile: "",
		"notes.txt": "",
	})
	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, names)

	missing := New(filepath.Join(t.TempDir(), "absent"), nil)
	names, err = missing.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCacheServesStaleUntilInvalidated(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.md": "v1"})

	sk, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "v1", sk.Body)

	write(t, s, "a.md", "v2")
	sk, _ = s.Get("a")
	assert.Equal(t, "v1", sk.Body, "cached without a watcher")

	s.Invalidate("a.md")
	sk, _ = s.Get("a")
	assert.Equal(t, "v2", sk.Body)

	// negative results are cached too
	_, err = s.Get("b")
	require.ErrorIs(t, err, ErrNotFound)
	write(t, s, "b.md", "B")
	_, err = s.Get("b")
	require.ErrorIs(t, err, ErrNotFound)
	s.Invalidate("")
	_, err = s.Get("b")
	assert.NoError(t, err)
}

func TestWatchInvalidatesOnWrite(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.md": "v1", ProjectFile: "p1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Watch(ctx))
	defer s.Close()
	assert.ErrorIs(t, s.Watch(ctx), ErrWatching)

	sk, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, "v1", sk.Body)
	_, err = s.Project()
	require.NoError(t, err)

	write(t, s, "a.md", "v2")
	write(t, s, ProjectFile, "p2")

	assert.Eventually(t, func() bool {
		sk, err := s.Get("a")
		return err == nil && sk.Body == "v2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		p, err := s.Project()
		return err == nil && p == "p2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchSeesNewAndRemovedFiles(t *testing.T) {
	s := newTestStore(t, map[string]string{"gone.md": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))
	defer s.Close()

	_, err := s.Get("new")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("gone")
	require.NoError(t, err)

	write(t, s, "new.md", "hello")
	require.NoError(t, os.Remove(filepath.Join(s.Dir(), "gone.md")))

	assert.Eventually(t, func() bool {
		_, errNew := s.Get("new")
		_, errGone := s.Get("gone")
		return errNew == nil && errors.Is(errGone, ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseWithoutWatch(t *testing.T) {
	s := newTestStore(t, nil)
	assert.NoError(t, s.Close())
}
