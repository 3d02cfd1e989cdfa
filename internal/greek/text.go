// Package greek holds the text normalization shared by order-line
// classification and aggregation. Greek is highly inflected; the helpers
// here deliberately approximate stemming with cheap string operations
// instead of a morphological analyzer.
package greek

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))

// StripAccents removes combining diacritical marks after decomposing to NFD.
func StripAccents(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// FoldFinalSigma maps the Greek final-form sigma onto the standard form so
// word-final and word-internal occurrences compare equal.
func FoldFinalSigma(s string) string {
	return strings.ReplaceAll(s, "ς", "σ")
}

// Normalize lowercases, strips accents, drops everything but letters,
// digits and spaces, and collapses runs of whitespace.
func Normalize(s string) string {
	s = StripAccents(strings.ToLower(strings.TrimSpace(s)))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// stemPrefixLen is the fixed word-prefix length of the grouping key. Four
// runes collapse singular/plural and case variants of most Greek words
// while still separating distinct ones.
const stemPrefixLen = 4

// StemKey computes the aggregation grouping key: NFD-decomposed,
// accent-stripped, final-sigma-folded, lowercased, each word truncated to
// its first four runes.
func StemKey(s string) string {
	s = Normalize(FoldFinalSigma(s))
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		if len(r) > stemPrefixLen {
			words[i] = string(r[:stemPrefixLen])
		}
	}
	return strings.Join(words, " ")
}
