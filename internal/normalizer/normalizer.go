// Package normalizer folds text for prefix searches.
//
// Normalize applies NFKC, width folding and case folding. RK additionally
// turns hiragana and romaji into katakana so that "kyo", "きょ" and "キョ" all
// share the same reading.
package normalizer

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalize returns s in NFKC form with width and case folded.
func Normalize(s string) string {
	if isPlainLower(s) {
		return s
	}
	t := transform.Chain(norm.NFKC, width.Fold, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func isPlainLower(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf || (c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// HasPrefix reports whether the normalized value starts with the normalized
// prefix.
func HasPrefix(value, prefix string) bool {
	return strings.HasPrefix(Normalize(value), Normalize(prefix))
}

// HasPrefixRK reports whether the katakana reading of value starts with the
// reading of prefix.
func HasPrefixRK(value, prefix string) bool {
	return strings.HasPrefix(RK(value), RK(prefix))
}

// RK returns the katakana reading of s.
func RK(s string) string {
	return ToKatakana(romajiToKatakana(Normalize(s)))
}

// ToKatakana maps hiragana to katakana and leaves everything else alone.
func ToKatakana(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'ぁ' && r <= 'ゖ' {
			r += 'ァ' - 'ぁ'
		}
		b.WriteRune(r)
	}
	return b.String()
}
