package extract

import "strings"

// FencedBlocks returns the inner text of every fenced region in text, in
// order of appearance.
//
// A region opens on a line whose first non-blank characters are three or more
// identical fence characters (` or ~), optionally followed by an info string,
// and closes on the next line holding nothing but a run of three or more of
// the same character. The closing run may be shorter or longer than the
// opening one. A region left open at the end of the text runs to the end.
func FencedBlocks(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var blocks []string
	for i := 0; i < len(lines); i++ {
		ch, ok := openingFence(lines[i])
		if !ok {
			continue
		}

		j := i + 1
		for ; j < len(lines); j++ {
			if closingFence(lines[j], ch) {
				break
			}
		}
		blocks = append(blocks, strings.Join(lines[i+1:j], "\n"))
		i = j
	}
	return blocks
}

// openingFence reports the fence character when line opens a fenced region.
func openingFence(line string) (byte, bool) {
	s := strings.TrimLeft(line, " \t")
	if len(s) < 3 {
		return 0, false
	}
	ch := s[0]
	if ch != '`' && ch != '~' {
		return 0, false
	}
	n := fenceRun(s, ch)
	if n < 3 {
		return 0, false
	}
	// Backtick info strings may not contain backticks, otherwise the line is
	// inline code such as ```foo```.
	if ch == '`' && strings.ContainsRune(s[n:], '`') {
		return 0, false
	}
	return ch, true
}

// closingFence reports whether line consists solely of a fence run of ch.
func closingFence(line string, ch byte) bool {
	s := strings.TrimSpace(line)
	if len(s) < 3 {
		return false
	}
	return fenceRun(s, ch) == len(s)
}

func fenceRun(s string, ch byte) int {
	n := 0
	for n < len(s) && s[n] == ch {
		n++
	}
	return n
}
