// Package indexer builds the sources table of an index from its heap.
//
// # Basic Usage
//
//	idx := indexer.New(engine, writer, cfg.Build.Workers)
//
//	result, err := idx.Build(ctx, heap, index)
//	fmt.Printf("indexed %d of %d rows\n", result.IndexTuples, result.HeapTuples)
//
// # Build Pipeline
//
// A build runs three stages connected by channels:
//
//  1. Scan: one goroutine walks the live heap rows in ctid order
//  2. Convert: a pool of workers casts each row into a source record
//  3. Write: one writer stores the records, in scan order, in a single
//     transaction together with their WAL entries
//
// The stages run under an errgroup, so the first failure cancels the
// others. A failed build drops the sources table and lexicons it created.
//
// # Concurrency
//
// Builds of different indexes may run at the same time; a second build of
// the same index fails while the first one holds the index lock. Writes to
// the engine are serialized by its single connection either way.
//
// Unique indexes are refused with types.ErrUniqueIndex.
package indexer
