package types

import "fmt"

// Strategy is the operator strategy number of a scan key.
type Strategy int

// Strategy numbers. 1 to 5 follow the host ordering convention.
const (
	StrategyLess         Strategy = 1  // <
	StrategyLessEqual    Strategy = 2  // <=
	StrategyEqual        Strategy = 3  // =
	StrategyGreaterEqual Strategy = 4  // >=
	StrategyGreater      Strategy = 5  // >
	StrategyLike         Strategy = 6  // LIKE
	StrategyILike        Strategy = 7  // ILIKE
	StrategyMatch        Strategy = 8  // &@
	StrategyQuery        Strategy = 9  // &@~
	StrategyRegexp       Strategy = 10 // &~
	StrategyContain      Strategy = 11 // @>
	StrategySimilar      Strategy = 12 // &@*
	StrategyScript       Strategy = 13 // &`
	StrategyPrefix       Strategy = 14 // &^
	StrategyPrefixRK     Strategy = 15 // &^~
	StrategyMatchIn      Strategy = 16 // &@|
	StrategyQueryIn      Strategy = 17 // &@~|
	StrategyPrefixIn     Strategy = 18 // &^|
	StrategyPrefixRKIn   Strategy = 19 // &^~|
	StrategyRegexpIn     Strategy = 20 // &~|
	StrategyNotPrefixIn  Strategy = 21 // !&^|

	StrategyMatchCondition            Strategy = 22
	StrategyQueryCondition            Strategy = 23
	StrategyMatchConditionWithScorers Strategy = 24
	StrategyQueryConditionWithScorers Strategy = 25
)

var strategyNames = map[Strategy]string{
	StrategyLess:                      "<",
	StrategyLessEqual:                 "<=",
	StrategyEqual:                     "=",
	StrategyGreaterEqual:              ">=",
	StrategyGreater:                   ">",
	StrategyLike:                      "LIKE",
	StrategyILike:                     "ILIKE",
	StrategyMatch:                     "&@",
	StrategyQuery:                     "&@~",
	StrategyRegexp:                    "&~",
	StrategyContain:                   "@>",
	StrategySimilar:                   "&@*",
	StrategyScript:                    "&`",
	StrategyPrefix:                    "&^",
	StrategyPrefixRK:                  "&^~",
	StrategyMatchIn:                   "&@|",
	StrategyQueryIn:                   "&@~|",
	StrategyPrefixIn:                  "&^|",
	StrategyPrefixRKIn:                "&^~|",
	StrategyRegexpIn:                  "&~|",
	StrategyNotPrefixIn:               "!&^|",
	StrategyMatchCondition:            "&@ condition",
	StrategyQueryCondition:            "&@~ condition",
	StrategyMatchConditionWithScorers: "&@ condition with scorers",
	StrategyQueryConditionWithScorers: "&@~ condition with scorers",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// IsOrdering reports whether s is one of < <= > >=.
func (s Strategy) IsOrdering() bool {
	switch s {
	case StrategyLess, StrategyLessEqual, StrategyGreaterEqual, StrategyGreater:
		return true
	}
	return false
}

// ScanDirection is the direction the host asks rows in.
type ScanDirection int

const (
	NoMovementScanDirection ScanDirection = 0
	ForwardScanDirection    ScanDirection = 1
	BackwardScanDirection   ScanDirection = -1
)

// IsBackward reports whether rows are requested in descending order.
func (d ScanDirection) IsBackward() bool {
	return d == BackwardScanDirection
}

// ScanKey is one predicate of an index scan.
type ScanKey struct {
	Attno       int // 1-based index column number
	Strategy    Strategy
	Argument    any
	IsNull      bool
	SearchArray bool // "column op ANY(array)"
}

// IsInCondition reports whether the key is an equality membership test.
func (k ScanKey) IsInCondition() bool {
	return k.SearchArray && k.Strategy == StrategyEqual
}

// Array is a host array value. Elements holds nil for NULL elements.
type Array struct {
	Dims     int
	Elements []any
}

// NewArray builds a one-dimensional array, or a zero-dimensional one when no
// element is given.
func NewArray(elements ...any) Array {
	if len(elements) == 0 {
		return Array{}
	}
	return Array{Dims: 1, Elements: elements}
}

// Strings returns the non-NULL elements formatted as strings.
func (a Array) Strings() []string {
	out := make([]string, 0, len(a.Elements))
	for _, e := range a.Elements {
		if e == nil {
			continue
		}
		if s, ok := e.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(e))
	}
	return out
}

// Condition is the structured full-text search condition value.
type Condition struct {
	Query *string
	// Weights holds per-section int weights. A nil pointer means no weights;
	// a zero-dimensional array is rejected.
	Weights *Array
	// Scorers holds per-section scorer scripts.
	Scorers   *Array
	IndexName string
}

// Row is a composite value of a heap row, indexed by attribute number - 1.
type Row struct {
	TableOID uint32
	Values   []any
}

// Value returns the attribute value and whether it is non-NULL.
func (r Row) Value(number int16) (any, bool) {
	i := int(number) - 1
	if i < 0 || i >= len(r.Values) || r.Values[i] == nil {
		return nil, false
	}
	return r.Values[i], true
}

// IndexTuple is a reconstructed index row returned by index-only scans.
type IndexTuple struct {
	Values []any
	IsNull []bool
}
