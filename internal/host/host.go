// Package host models the parts of the host database the access method
// reads: heap relations, their row versions and the relation catalog.
package host

import (
	"context"

	"github.com/dshills/pgrnscan/pkg/types"
)

// Heap gives access to the rows of heap relations.
type Heap interface {
	// Table returns the definition of a heap relation.
	Table(oid uint32) (*types.Table, bool)
	// Resolve follows the update chain of ctid to the live row version. It
	// returns false when no live version exists.
	Resolve(tableOID uint32, ctid types.Ctid) (types.Ctid, bool)
	// Fetch returns the row stored at ctid when it is live.
	Fetch(tableOID uint32, ctid types.Ctid) (types.Row, bool)
	// Scan calls fn for every live row in ctid order.
	Scan(ctx context.Context, tableOID uint32, fn func(ctid types.Ctid, row types.Row) error) error
}

// Catalog knows which relations exist.
type Catalog interface {
	// IsValidFileNode reports whether a relation still owns relFileNode.
	IsValidFileNode(relFileNode uint32) bool
	// Index returns the definition of an index relation.
	Index(oid uint32) (*types.Index, bool)
}
