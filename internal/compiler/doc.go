// Package compiler turns scan keys into engine expressions.
//
// Every scan key is classified into a Predicate variant by Classify. The
// variants append their expression to a SearchData, which ANDs the
// contributions of all keys together. A key can also be rejected (a NULL
// argument never matches) or prove the whole condition unsatisfiable.
package compiler
