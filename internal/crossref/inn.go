package crossref

import "regexp"

// digitRunPattern matches maximal runs of ASCII digits. Only runs of exactly
// 10 or 12 digits are INN candidates, so longer numbers (phones, bank
// accounts) never yield a substring match.
var digitRunPattern = regexp.MustCompile(`\d+`)

var (
	innWeights10  = []int{2, 4, 10, 3, 5, 9, 4, 6, 8}
	innWeights12a = []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
	innWeights12b = []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
)

// ValidINN reports whether s is a 10-digit (organisation) or 12-digit
// (individual) Russian taxpayer number with correct check digits.
func ValidINN(s string) bool {
	digits := make([]int, len(s))
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		digits[i] = int(r - '0')
	}

	switch len(digits) {
	case 10:
		return innCheck(digits, innWeights10) == digits[9]
	case 12:
		return innCheck(digits, innWeights12a) == digits[10] &&
			innCheck(digits, innWeights12b) == digits[11]
	default:
		return false
	}
}

// innCheck computes a control digit: weighted sum mod 11 mod 10.
func innCheck(digits, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	return sum % 11 % 10
}

// ExtractINNs returns the valid INNs in text, deduplicated, in order of
// first occurrence.
func ExtractINNs(text string) []string {
	matches := digitRunPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		if seen[m] || !ValidINN(m) {
			continue
		}
		seen[m] = true
		result = append(result, m)
	}
	return result
}

// FirstINN returns the first valid INN, scanning subject before body.
func FirstINN(subject, body string) string {
	for _, text := range []string{subject, body} {
		if inns := ExtractINNs(text); len(inns) > 0 {
			return inns[0]
		}
	}
	return ""
}
