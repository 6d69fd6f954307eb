package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/pgrnscan/pkg/types"
)

// Scorer functions
const (
	ScorerTFIDF    = "scorer_tf_idf"
	ScorerTFAtMost = "scorer_tf_at_most"
)

// Scorer adjusts the score of one match target.
type Scorer struct {
	Func    string
	Lexicon string
	Section int // -1 when the target names no section
	Args    []float64
}

var scorerPattern = regexp.MustCompile(`^\s*([a-z_]+)\s*\(\s*"((?:[^"]|"")*)"(?:\[(\d+)\])?\s*(?:,(.*))?\)\s*$`)

// ParseScorer parses a scorer call such as
//
//	scorer_tf_at_most("Lexicon1_0"[2], 0.25)
func ParseScorer(text string) (*Scorer, error) {
	m := scorerPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("[scorer] invalid scorer %q: %w", text, types.ErrSyntax)
	}

	s := &Scorer{
		Func:    m[1],
		Lexicon: strings.ReplaceAll(m[2], `""`, `"`),
		Section: -1,
	}
	if m[3] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, fmt.Errorf("[scorer] invalid section in %q: %w", text, types.ErrSyntax)
		}
		s.Section = n
	}
	if strings.TrimSpace(m[4]) != "" {
		for _, a := range strings.Split(m[4], ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
			if err != nil {
				return nil, fmt.Errorf("[scorer] invalid argument %q: %w", a, types.ErrSyntax)
			}
			s.Args = append(s.Args, f)
		}
	}

	switch s.Func {
	case ScorerTFIDF:
		if len(s.Args) != 0 {
			return nil, fmt.Errorf("[scorer] %s takes no arguments: %w", s.Func, types.ErrSyntax)
		}
	case ScorerTFAtMost:
		if len(s.Args) != 1 {
			return nil, fmt.Errorf("[scorer] %s takes one argument: %w", s.Func, types.ErrSyntax)
		}
	default:
		return nil, fmt.Errorf("[scorer] unknown scorer %s: %w", s.Func, types.ErrNotImplemented)
	}
	return s, nil
}

// apply wraps a base score expression.
func (s *Scorer) apply(base string) string {
	switch s.Func {
	case ScorerTFAtMost:
		return fmt.Sprintf("MIN(%s, %s)", base, formatFloat(s.Args[0]))
	default:
		return base
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
