// Package mutation writes host rows into sources tables and removes them.
//
// Every write runs in one engine transaction together with its WAL entry.
// Values are cast into the domain of their data column; a value that can't
// be cast is logged and left out of the record rather than failing the
// insert.
package mutation
