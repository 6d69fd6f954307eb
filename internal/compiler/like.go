package compiler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/pgrnscan/pkg/types"
)

// LikeToRegexp translates a LIKE pattern into a regular expression. The
// pattern is anchored with \A and \z unless it starts or ends with %.
func LikeToRegexp(pattern string) (string, error) {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	if pattern == "" || pattern[0] != '%' {
		b.WriteString(`\A`)
	}

	escaping := false
	lastIsPercent := false
	for i := 0; i < len(pattern); {
		r, size := utf8.DecodeRuneInString(pattern[i:])
		if r == utf8.RuneError && size <= 1 {
			return "", fmt.Errorf("[build-condition][like-regexp] invalid encoding character exist: <%s>: %w",
				pattern, types.ErrInvalidArgument)
		}
		first := i == 0
		i += size
		last := i == len(pattern)

		if !escaping {
			switch r {
			case '%':
				if last && !first {
					lastIsPercent = true
				} else if !first {
					b.WriteString(".*")
				}
				continue
			case '_':
				b.WriteByte('.')
				continue
			case '\\':
				escaping = true
				continue
			}
		}

		switch r {
		case '\\', '|', '(', ')', '[', ']', '.', '*', '+', '?', '{', '}', '^', '$':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
		escaping = false
	}

	if !lastIsPercent {
		b.WriteString(`\z`)
	}
	return b.String(), nil
}

// LikeKeywords splits a LIKE pattern into the literal runs between
// wildcards.
func LikeKeywords(pattern string) []string {
	var keywords []string
	var keyword strings.Builder
	flush := func() {
		if keyword.Len() > 0 {
			keywords = append(keywords, keyword.String())
			keyword.Reset()
		}
	}

	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '\\':
			if i+1 == len(pattern) {
				keyword.WriteByte('\\')
			} else {
				i++
				keyword.WriteByte(pattern[i])
			}
		case '%', '_':
			flush()
		default:
			keyword.WriteByte(c)
		}
	}
	flush()
	return keywords
}
