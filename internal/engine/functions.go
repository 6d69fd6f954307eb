package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/armon/go-radix"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/pgrnscan/internal/normalizer"
)

// SQL functions registered on every engine connection.
const (
	FuncRegexp   = "regexp" // backs "value REGEXP pattern"
	FuncPrefix   = "pgrn_prefix"
	FuncPrefixRK = "pgrn_prefix_rk"
	FuncPrefixIn = "pgrn_prefix_in"
)

const functionCacheSize = 256

type scalarFunction struct {
	name  string
	nArgs int32 // -1 for variadic
	impl  func(args []any) (bool, error)
}

var scalarFunctions = []scalarFunction{
	{name: FuncRegexp, nArgs: 2, impl: regexpFunc},
	{name: FuncPrefix, nArgs: 2, impl: prefixFunc},
	{name: FuncPrefixRK, nArgs: 2, impl: prefixRKFunc},
	{name: FuncPrefixIn, nArgs: -1, impl: prefixInFunc},
}

var (
	regexpCache    *lru.Cache[string, *regexp.Regexp]
	prefixSetCache *lru.Cache[string, *radix.Tree]
)

func init() {
	var err error
	if regexpCache, err = lru.New[string, *regexp.Regexp](functionCacheSize); err != nil {
		panic(err)
	}
	if prefixSetCache, err = lru.New[string, *radix.Tree](functionCacheSize); err != nil {
		panic(err)
	}
}

// PurgeFunctionCaches drops compiled regular expressions and prefix sets.
func PurgeFunctionCaches() {
	regexpCache.Purge()
	prefixSetCache.Purge()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// asString converts a SQLite argument to text. NULL reports false.
func asString(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	default:
		return fmt.Sprint(v), true
	}
}

// CompileRegexp returns the cached compiled form of pattern.
func CompileRegexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexpCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
	}
	regexpCache.Add(pattern, re)
	return re, nil
}

func regexpFunc(args []any) (bool, error) {
	pattern, ok := asString(args[0])
	if !ok {
		return false, nil
	}
	value, ok := asString(args[1])
	if !ok {
		return false, nil
	}
	re, err := CompileRegexp(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}

func prefixFunc(args []any) (bool, error) {
	value, ok := asString(args[0])
	if !ok {
		return false, nil
	}
	prefix, ok := asString(args[1])
	if !ok {
		return false, nil
	}
	return normalizer.HasPrefix(value, prefix), nil
}

func prefixRKFunc(args []any) (bool, error) {
	value, ok := asString(args[0])
	if !ok {
		return false, nil
	}
	prefix, ok := asString(args[1])
	if !ok {
		return false, nil
	}
	return normalizer.HasPrefixRK(value, prefix), nil
}

func prefixInFunc(args []any) (bool, error) {
	if len(args) < 1 {
		return false, fmt.Errorf("%s: value argument is required", FuncPrefixIn)
	}
	value, ok := asString(args[0])
	if !ok {
		return false, nil
	}
	prefixes := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		if p, ok := asString(a); ok {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return false, nil
	}
	_, _, found := prefixSet(prefixes).LongestPrefix(normalizer.Normalize(value))
	return found, nil
}

func prefixSet(prefixes []string) *radix.Tree {
	key := strings.Join(prefixes, "\x00")
	if tree, ok := prefixSetCache.Get(key); ok {
		return tree
	}
	tree := radix.New()
	for _, p := range prefixes {
		tree.Insert(normalizer.Normalize(p), struct{}{})
	}
	prefixSetCache.Add(key, tree)
	return tree
}
