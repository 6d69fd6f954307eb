// Package expr is the expression API of the engine.
//
// Search conditions are trees of Node values. Leaves test one data column of
// a sources table (Compare, InValues, Match, Prefix, PrefixIn, Regexp,
// Similar) and inner nodes combine them (And, Or, AndNot). Render turns a
// tree into a SQL WHERE clause over the sources table plus a score
// expression, which is the sum of the full-text scores of every Match leaf.
//
// Two text syntaxes produce trees:
//
//   - ParseQuery reads the query syntax: terms, "phrases", OR, -term, +term,
//     parentheses and column pragmas such as title:@word or price:>100.
//   - ParseScript reads the script syntax: title @ "word", price >= 100,
//     name @^ "pre", &&, || and &!.
package expr
