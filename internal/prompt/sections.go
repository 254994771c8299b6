package prompt

import "strings"

// Section is one titled block of editor-derived context (diagnostics, hover,
// type definitions, outline, references, surrounding code).
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Well-known section titles, in the order editors usually send them.
const (
	SectionDiagnostics = "Diagnostics"
	SectionHover       = "Type information"
	SectionDefinitions = "Type definitions"
	SectionOutline     = "File outline"
	SectionReferences  = "References"
	SectionSurrounding = "Surrounding code"
)

// FormatSections renders sections in order, each under a "### Title" heading.
// Sections with a blank body are skipped.
func FormatSections(sections []Section) string {
	var parts []string
	for _, s := range sections {
		body := strings.TrimSpace(s.Body)
		if body == "" {
			continue
		}
		if s.Title == "" {
			parts = append(parts, body)
			continue
		}
		parts = append(parts, "### "+s.Title+"\n\n"+body)
	}
	return strings.Join(parts, "\n\n")
}
