package mailbox

import (
	"html"
	"regexp"
	"strings"
)

var (
	// htmlTagPattern matches HTML tags for stripping.
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

	// htmlBlockPattern matches elements whose content is never text.
	htmlBlockPattern = regexp.MustCompile(`(?is)<(script|style|head)\b[^>]*>.*?</(script|style|head)>`)

	// htmlBreakPattern matches tags that end a visual line.
	htmlBreakPattern = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6])>`)
)

// stripHTML removes HTML tags from a string and decodes entities,
// providing a basic plain-text rendering.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}

	result := htmlBlockPattern.ReplaceAllString(s, "")
	result = htmlBreakPattern.ReplaceAllString(result, "\n")
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = html.UnescapeString(result)
	result = strings.ReplaceAll(result, "\u00a0", " ")
	result = strings.ReplaceAll(result, "\r\n", "\n")

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
