// Package scan executes index scans against a sources table.
//
// An Opaque is the state of one scan. It compiles the scan keys into a
// searched temp table, optionally sorts it, and walks the result with a
// cursor that yields packed ctids. Scans that only compare one plain column
// skip the searched table and walk the column index directly.
//
// Every temp table a scan creates is named after its registry handle and
// rescan generation, so scans sharing the engine connection never collide.
// Scores of searched records can be read back while the scan is registered,
// by row primary key or by ctid.
package scan
