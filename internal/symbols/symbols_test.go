package symbols

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== Test Helper Functions =====

func workspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

const goSource = `package store

// Store keeps things.
type Store struct {
	items map[string]int
}

func (s *Store) Put(k string, v int) {
	if s.items == nil {
		s.items = map[string]int{}
	}
	s.items[k] = v
}

const Limit = 10
`

const pySource = `import os

def load_config(path):
    with open(path) as f:
        return f.read()

class Loader:
    pass
`

// ===== Tests =====

func TestResolveGo(t *testing.T) {
	root := workspace(t, map[string]string{"store/store.go": goSource})
	r := New(root)

	syms, missing, err := r.Resolve(context.Background(), []string{"Store", "Put", "Limit"})
	require.NoError(t, err)
	assert.Empty(t, missing)
	require.Len(t, syms, 3)

	assert.Equal(t, "Store", syms[0].Name)
	assert.Equal(t, "type", syms[0].Kind)
	assert.Equal(t, "store/store.go", syms[0].File)
	assert.Equal(t, 4, syms[0].Line)
	assert.Equal(t, "type Store struct {\n\titems map[string]int\n}", syms[0].Excerpt)

	assert.Equal(t, "func", syms[1].Kind)
	assert.Equal(t, 8, syms[1].Line)
	assert.Contains(t, syms[1].Excerpt, "s.items[k] = v\n}")

	assert.Equal(t, "const Limit = 10", syms[2].Excerpt)
}

func TestResolvePython(t *testing.T) {
	root := workspace(t, map[string]string{"cfg.py": pySource})
	syms, missing, err := New(root).Resolve(context.Background(), []string{"load_config", "Loader"})
	require.NoError(t, err)
	assert.Empty(t, missing)
	require.Len(t, syms, 2)

	assert.Equal(t, "def", syms[0].Kind)
	assert.Equal(t, 3, syms[0].Line)
	assert.Equal(t, "def load_config(path):\n    with open(path) as f:\n        return f.read()", syms[0].Excerpt)
	assert.Equal(t, "class", syms[1].Kind)
}

func TestResolveJavaScriptFunction(t *testing.T) {
	root := workspace(t, map[string]string{"web/app.js": "export default function render(el) {\n  return el;\n}\n"})
	syms, _, err := New(root).Resolve(context.Background(), []string{"render"})
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "function", syms[0].Kind)
}

func TestResolveReportsMissingInRequestOrder(t *testing.T) {
	root := workspace(t, map[string]string{"a.go": goSource})
	syms, missing, err := New(root).Resolve(context.Background(), []string{"Nope", "Store", "Also", "Nope", " "})
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, []string{"Nope", "Also"}, missing)
}

func TestResolveSkipsIgnoredDirsAndExtensions(t *testing.T) {
	root := workspace(t, map[string]string{
		"node_modules/lib/x.js": "function Hidden() {}\n",
		".git/hooks/y.go":       "func Hidden() {}\n",
		"notes.md":              "func Hidden() {}\n",
		"z/visible.go":          "func Hidden() {}\n",
	})
	syms, _, err := New(root).Resolve(context.Background(), []string{"Hidden"})
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "z/visible.go", syms[0].File)
}

func TestResolveFirstMatchWins(t *testing.T) {
	root := workspace(t, map[string]string{
		"a/one.go": "func Dup() {}\n",
		"b/two.go": "func Dup() {}\n",
	})
	syms, _, err := New(root).Resolve(context.Background(), []string{"Dup"})
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "a/one.go", syms[0].File)
}

func TestExcerptLimit(t *testing.T) {
	root := workspace(t, map[string]string{"big.go": goSource})
	r := &Resolver{Root: root, ExcerptLines: 2}
	syms, _, err := r.Resolve(context.Background(), []string{"Put"})
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "func (s *Store) Put(k string, v int) {\n\tif s.items == nil {", syms[0].Excerpt)
}

func TestResolveEdgeCases(t *testing.T) {
	_, _, err := (&Resolver{}).Resolve(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrNoRoot)

	syms, missing, err := New(t.TempDir()).Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, syms)
	assert.Empty(t, missing)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = New(workspace(t, map[string]string{"a.go": goSource})).Resolve(ctx, []string{"Store"})
	assert.ErrorIs(t, err, context.Canceled)
}
