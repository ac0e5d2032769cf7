package repair

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity is 1 - levenshtein(a,b)/max(len(a),len(b)) over trimmed, lower-cased
// input, counted in runes. Two empty strings are identical; one empty string
// against a non-empty one scores 0, even when the other is only whitespace.
func Similarity(a, b string) float64 {
	if (a == "") != (b == "") {
		return 0
	}
	a, b = normalize(a), normalize(b)
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
