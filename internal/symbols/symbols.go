// ============================================================================
// splice Symbol Resolver
// ============================================================================
//
// Package: internal/symbols
// File: symbols.go
// Purpose: Locate cross-file definitions referenced by a job so the prompt
//          can quote them.
//
// The resolver walks the workspace in lexical order and matches definition
// lines with a single language-agnostic pattern (func, function, type, class,
// def, const, var, let, interface, struct, enum, trait, fn). The first match of
// each name wins. Excerpts run from the definition line until its braces
// close, the first blank line of a brace-less body, or the line limit.
// ============================================================================

package symbols

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ChuLiYu/splice/internal/prompt"
)

// Defaults
const (
	DefaultExcerptLines = 40
	DefaultMaxFileBytes = 1 << 20
)

var definition = regexp.MustCompile(
	`^\s*(?:export\s+)?(?:default\s+)?(?:pub(?:\([a-z]+\))?\s+)?(?:async\s+)?` +
		`(func|function|type|class|def|const|var|let|interface|struct|enum|trait|fn)\s+` +
		`(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)

// DefaultExtensions are the source files scanned when Resolver.Extensions is empty.
var DefaultExtensions = []string{
	".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".rs", ".java", ".kt",
	".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rb", ".swift", ".scala", ".lua",
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "target": true,
	"dist": true, "build": true, "__pycache__": true,
}

// ErrNoRoot is returned when the resolver has no workspace root.
var ErrNoRoot = errors.New("symbols: no workspace root")

// Resolver scans one workspace.
type Resolver struct {
	Root         string
	Extensions   []string
	ExcerptLines int
	MaxFileBytes int64
}

// New returns a resolver over root with default limits.
func New(root string) *Resolver {
	return &Resolver{Root: root}
}

// Resolve finds each name and returns the symbols found (in request order)
// plus the names that were not found anywhere.
func (r *Resolver) Resolve(ctx context.Context, names []string) ([]prompt.Symbol, []string, error) {
	if r.Root == "" {
		return nil, nil, ErrNoRoot
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			want[n] = true
		}
	}
	found := make(map[string]prompt.Symbol, len(want))
	if len(want) == 0 {
		return nil, nil, nil
	}

	exts := make(map[string]bool)
	for _, e := range r.extensions() {
		exts[e] = true
	}

	errDone := errors.New("done")
	err := filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			name := d.Name()
			if path != r.Root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return fs.SkipDir
			}
			return nil
		}
		if !exts[filepath.Ext(path)] {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > r.maxFileBytes() {
			return nil
		}
		if err := r.scanFile(path, want, found); err != nil {
			return nil
		}
		if len(found) == len(want) {
			return errDone
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDone) {
		return nil, nil, fmt.Errorf("symbols: walk %s: %w", r.Root, err)
	}

	var (
		out     []prompt.Symbol
		missing []string
		seen    = make(map[string]bool)
	)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if s, ok := found[n]; ok {
			out = append(out, s)
		} else {
			missing = append(missing, n)
		}
	}
	return out, missing, nil
}

func (r *Resolver) scanFile(path string, want map[string]bool, found map[string]prompt.Symbol) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	rel, err := filepath.Rel(r.Root, path)
	if err != nil {
		rel = path
	}
	for i, line := range lines {
		m := definition.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[2]
		if !want[name] {
			continue
		}
		if _, done := found[name]; done {
			continue
		}
		found[name] = prompt.Symbol{
			Name:    name,
			Kind:    m[1],
			File:    filepath.ToSlash(rel),
			Line:    i + 1,
			Excerpt: excerpt(lines[i:], r.excerptLines()),
		}
	}
	return nil
}

// excerpt returns the definition starting at lines[0].
func excerpt(lines []string, limit int) string {
	var (
		out    []string
		depth  int
		opened bool
	)
	for _, line := range lines {
		if len(out) == limit {
			break
		}
		if !opened && len(out) > 0 && strings.TrimSpace(line) == "" {
			break
		}
		out = append(out, strings.TrimRight(line, "\r"))
		for _, c := range line {
			switch c {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			break
		}
	}
	return strings.Join(out, "\n")
}

func (r *Resolver) extensions() []string {
	if len(r.Extensions) > 0 {
		return r.Extensions
	}
	return DefaultExtensions
}

func (r *Resolver) excerptLines() int {
	if r.ExcerptLines > 0 {
		return r.ExcerptLines
	}
	return DefaultExcerptLines
}

func (r *Resolver) maxFileBytes() int64 {
	if r.MaxFileBytes > 0 {
		return r.MaxFileBytes
	}
	return DefaultMaxFileBytes
}
