// Package types provides the host-facing data model shared by the scan engine.
//
// The host database is described through plain values rather than live
// handles:
//
//   - Table and Attribute describe a heap relation.
//   - Index and IndexColumn describe an index using the engine access method,
//     including which operator family each key column was declared with.
//   - ScanKey is one search predicate handed over by the host planner.
//   - Ctid identifies a physical row version and packs into a uint64 so it
//     can be stored as an engine key or column value.
//
// # Strategies
//
// Strategy numbers follow the host convention for ordering operators
// (1 to 5) and extend it with the full-text, prefix, regexp and condition
// operators:
//
//	key := types.ScanKey{
//	    Attno:    1,
//	    Strategy: types.StrategyMatch,
//	    Argument: "groonga",
//	}
//
// Array arguments (IN lists, keyword lists) are passed as Array values so
// that dimensionality and NULL elements are visible to the compiler:
//
//	key := types.ScanKey{
//	    Attno:       1,
//	    Strategy:    types.StrategyEqual,
//	    SearchArray: true,
//	    Argument:    types.NewArray(int64(1), int64(3)),
//	}
package types
