package host

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/pgrnscan/pkg/types"
)

// rowsPerBlock is how many row versions a block of a MemoryHeap holds.
const rowsPerBlock = 64

type version struct {
	row  types.Row
	dead bool
	// next is the newer version written by an update.
	next *types.Ctid
}

type memTable struct {
	def      types.Table
	versions map[types.Ctid]*version
	order    []types.Ctid
}

func (t *memTable) nextCtid() types.Ctid {
	n := len(t.order)
	return types.Ctid{Block: uint32(n / rowsPerBlock), Offset: uint16(n%rowsPerBlock + 1)}
}

// MemoryHeap is a Heap kept in memory. Updates chain the old row version to
// the new one, the way heap-only tuple updates do.
type MemoryHeap struct {
	mu     sync.RWMutex
	tables map[uint32]*memTable
}

// NewMemoryHeap creates an empty heap.
func NewMemoryHeap() *MemoryHeap {
	return &MemoryHeap{tables: make(map[uint32]*memTable)}
}

// CreateTable adds a heap relation.
func (h *MemoryHeap) CreateTable(def types.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tables[def.OID] = &memTable{def: def, versions: make(map[types.Ctid]*version)}
}

func (h *MemoryHeap) table(oid uint32) (*memTable, error) {
	t, ok := h.tables[oid]
	if !ok {
		return nil, fmt.Errorf("heap relation %d: %w", oid, types.ErrInvalidArgument)
	}
	return t, nil
}

// Insert stores a new row and returns its ctid.
func (h *MemoryHeap) Insert(tableOID uint32, values ...any) (types.Ctid, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.table(tableOID)
	if err != nil {
		return types.Ctid{}, err
	}
	return t.insert(values), nil
}

func (t *memTable) insert(values []any) types.Ctid {
	ctid := t.nextCtid()
	t.versions[ctid] = &version{row: types.Row{TableOID: t.def.OID, Values: values}}
	t.order = append(t.order, ctid)
	return ctid
}

// Update writes a new version of the row at ctid and returns its ctid. The
// old version stays reachable through Resolve.
func (h *MemoryHeap) Update(tableOID uint32, ctid types.Ctid, values ...any) (types.Ctid, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.table(tableOID)
	if err != nil {
		return types.Ctid{}, err
	}
	old, ok := t.versions[ctid]
	if !ok || old.dead {
		return types.Ctid{}, fmt.Errorf("no live row at %s: %w", ctid, types.ErrInvalidArgument)
	}
	next := t.insert(values)
	old.dead = true
	old.next = &next
	return next, nil
}

// Delete removes the row at ctid.
func (h *MemoryHeap) Delete(tableOID uint32, ctid types.Ctid) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.table(tableOID)
	if err != nil {
		return err
	}
	v, ok := t.versions[ctid]
	if !ok || v.dead {
		return fmt.Errorf("no live row at %s: %w", ctid, types.ErrInvalidArgument)
	}
	v.dead = true
	return nil
}

// Table implements Heap.
func (h *MemoryHeap) Table(oid uint32) (*types.Table, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tables[oid]
	if !ok {
		return nil, false
	}
	def := t.def
	return &def, true
}

// Resolve implements Heap.
func (h *MemoryHeap) Resolve(tableOID uint32, ctid types.Ctid) (types.Ctid, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tables[tableOID]
	if !ok {
		return types.Ctid{}, false
	}
	for {
		v, ok := t.versions[ctid]
		if !ok {
			return types.Ctid{}, false
		}
		if !v.dead {
			return ctid, true
		}
		if v.next == nil {
			return types.Ctid{}, false
		}
		ctid = *v.next
	}
}

// Fetch implements Heap.
func (h *MemoryHeap) Fetch(tableOID uint32, ctid types.Ctid) (types.Row, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tables[tableOID]
	if !ok {
		return types.Row{}, false
	}
	v, ok := t.versions[ctid]
	if !ok || v.dead {
		return types.Row{}, false
	}
	return v.row, true
}

// Scan implements Heap. Rows are collected before fn runs, so fn may write
// to the heap.
func (h *MemoryHeap) Scan(ctx context.Context, tableOID uint32, fn func(types.Ctid, types.Row) error) error {
	h.mu.RLock()
	t, ok := h.tables[tableOID]
	if !ok {
		h.mu.RUnlock()
		return fmt.Errorf("heap relation %d: %w", tableOID, types.ErrInvalidArgument)
	}
	type live struct {
		ctid types.Ctid
		row  types.Row
	}
	rows := make([]live, 0, len(t.order))
	for _, ctid := range t.order {
		if v := t.versions[ctid]; !v.dead {
			rows = append(rows, live{ctid: ctid, row: v.row})
		}
	}
	h.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].ctid.Pack() < rows[j].ctid.Pack() })
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.ctid, r.row); err != nil {
			return err
		}
	}
	return nil
}

// MemoryCatalog is a Catalog kept in memory.
type MemoryCatalog struct {
	mu      sync.RWMutex
	indexes map[uint32]*types.Index
	nodes   map[uint32]uint32 // relfilenode -> index oid
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		indexes: make(map[uint32]*types.Index),
		nodes:   make(map[uint32]uint32),
	}
}

// AddIndex registers index and its relfilenode.
func (c *MemoryCatalog) AddIndex(index *types.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[index.OID] = index
	c.nodes[index.RelFileNode] = index.OID
}

// DropIndex forgets the index and its relfilenode.
func (c *MemoryCatalog) DropIndex(oid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index, ok := c.indexes[oid]; ok {
		delete(c.nodes, index.RelFileNode)
		delete(c.indexes, oid)
	}
}

// IsValidFileNode implements Catalog.
func (c *MemoryCatalog) IsValidFileNode(relFileNode uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nodes[relFileNode]
	return ok
}

// Index implements Catalog.
func (c *MemoryCatalog) Index(oid uint32) (*types.Index, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	index, ok := c.indexes[oid]
	return index, ok
}
