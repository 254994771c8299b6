package prompt

import "strings"

// DefaultCommentPrefix is used when the language is unknown.
const DefaultCommentPrefix = "//"

var commentPrefixes = map[string]string{
	// hash family
	"sh": "#", "bash": "#", "zsh": "#", "fish": "#",
	"python": "#", "py": "#", "ruby": "#", "rb": "#", "perl": "#",
	"r": "#", "yaml": "#", "yml": "#", "toml": "#", "make": "#",
	"makefile": "#", "dockerfile": "#", "cmake": "#", "nix": "#",
	"elixir": "#", "powershell": "#", "conf": "#",

	// C family
	"c": "//", "cpp": "//", "c++": "//", "h": "//", "hpp": "//",
	"go": "//", "rust": "//", "rs": "//", "java": "//", "kotlin": "//",
	"scala": "//", "swift": "//", "javascript": "//", "js": "//",
	"typescript": "//", "ts": "//", "tsx": "//", "jsx": "//",
	"javascriptreact": "//", "typescriptreact": "//", "cs": "//",
	"csharp": "//", "dart": "//", "zig": "//", "php": "//",
	"proto": "//", "groovy": "//",

	// double dash
	"lua": "--", "sql": "--", "haskell": "--", "hs": "--",
	"elm": "--", "ada": "--", "vhdl": "--",

	// markup
	"html": "<!--", "xml": "<!--", "markdown": "<!--", "md": "<!--",
	"svg": "<!--", "vue": "<!--",

	// others
	"vim": `"`, "lisp": ";", "clojure": ";", "scheme": ";", "asm": ";",
	"erlang": "%", "tex": "%", "latex": "%", "matlab": "%",
	"fortran": "!", "css": "/*", "scss": "//", "ocaml": "(*",
}

// CommentPrefix resolves the comment prefix for language: the assembler's
// overrides first, then the built-in table, then the default.
func (a *Assembler) CommentPrefix(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if p, ok := a.CommentPrefixes[lang]; ok && p != "" {
		return p
	}
	if p, ok := commentPrefixes[lang]; ok {
		return p
	}
	if a.DefaultCommentPrefix != "" {
		return a.DefaultCommentPrefix
	}
	return DefaultCommentPrefix
}
