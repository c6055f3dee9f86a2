package crossref

import (
	"regexp"
	"sort"
	"strings"
)

// projectNumberPatterns recognise project references. Each has one
// capturing group holding the number.
var projectNumberPatterns = []*regexp.Regexp{
	// "project № X-12", "Project number: 17", "проект №17"
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:project|проект)(?:\s+(?:number|no\.?|номер))?\s*[№#:]?\s*([a-z0-9]+(?:-[a-z0-9]+)*)`),
	// "номер проекта: 17"
	regexp.MustCompile(`(?i)номер\s+проекта\s*[№#:]?\s*([a-z0-9]+(?:-[a-z0-9]+)*)`),
	// "2024-PR-01"
	regexp.MustCompile(`\b(\d{4}-[A-Z]{2,}-\d{2,})\b`),
	// "PR-001"
	regexp.MustCompile(`\b([A-Z]{2,}-\d{2,})\b`),
}

type projectMatch struct {
	start, end int
	number     string
}

// ExtractProjectNumbers returns the project numbers referenced in text,
// upper-cased, deduplicated, in order of first occurrence. Tokens without
// a digit are ignored.
func ExtractProjectNumbers(text string) []string {
	var found []projectMatch
	for _, p := range projectNumberPatterns {
		for _, loc := range p.FindAllStringSubmatchIndex(text, -1) {
			number := strings.ToUpper(text[loc[2]:loc[3]])
			if !strings.ContainsAny(number, "0123456789") {
				continue
			}
			found = append(found, projectMatch{start: loc[2], end: loc[3], number: number})
		}
	}
	if len(found) == 0 {
		return nil
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	// A match nested in an earlier one ("PR-01" inside "2024-PR-01") is
	// part of that reference, not a new one.
	seen := make(map[string]bool)
	var result []string
	covered := -1
	for _, m := range found {
		if m.start < covered {
			continue
		}
		covered = m.end
		if seen[m.number] {
			continue
		}
		seen[m.number] = true
		result = append(result, m.number)
	}
	return result
}

// FirstProjectNumber returns the first project number, scanning subject
// before body.
func FirstProjectNumber(subject, body string) string {
	for _, text := range []string{subject, body} {
		if numbers := ExtractProjectNumbers(text); len(numbers) > 0 {
			return numbers[0]
		}
	}
	return ""
}
