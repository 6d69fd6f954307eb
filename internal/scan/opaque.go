package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/internal/logging"
	"github.com/dshills/pgrnscan/internal/metrics"
	"github.com/dshills/pgrnscan/internal/parallel"
	"github.com/dshills/pgrnscan/internal/registry"
	"github.com/dshills/pgrnscan/internal/wal"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Deps are the collaborators every scan uses.
type Deps struct {
	Engine   *engine.Engine
	Heap     host.Heap
	WAL      *wal.Log
	Registry *registry.Registry
}

// Opaque is the state of one index scan.
type Opaque struct {
	deps    Deps
	db      *sql.DB
	logger  zerolog.Logger
	metrics *metrics.Metrics

	handle     registry.Handle
	generation int

	index   *types.Index
	sources *engine.Sources
	keys    []types.ScanKey
	recheck bool

	parallel *parallel.Shared

	// Temp tables. Empty names mean the table doesn't exist.
	searched     string
	sorted       string
	ctidResolve  string
	scoreTargets string

	cursor    *cursor
	hasScore  bool
	currentID int64

	primaryKeyColumns []PrimaryKeyColumn

	// canReturns caches per index column whether it is returnable.
	canReturnsComputed *bitset.BitSet
	canReturns         *bitset.BitSet
	maxRecordSize      int

	arena  arena
	closed bool
}

// Begin creates the state of a scan of index and registers it.
func Begin(ctx context.Context, deps Deps, index *types.Index) (*Opaque, error) {
	db, err := deps.Engine.EnsureDatabase(ctx)
	if err != nil {
		return nil, err
	}
	src, err := deps.Engine.LookupSources(ctx, index.RelFileNode)
	if err != nil {
		return nil, fmt.Errorf("[scan][begin] %s: %w", index.Name, err)
	}

	so := &Opaque{
		deps:               deps,
		db:                 db,
		logger:             logging.Component(deps.Engine.Logger(), "scan"),
		metrics:            deps.Engine.Metrics(),
		index:              index,
		sources:            src,
		canReturnsComputed: bitset.New(uint(len(index.Columns))),
		canReturns:         bitset.New(uint(len(index.Columns))),
		maxRecordSize:      src.MaxRecordSize,
	}
	so.primaryKeyColumns = primaryKeyColumns(deps.Heap, index, src)

	so.handle = deps.Registry.Reserve()
	deps.Registry.Store(so.handle, so)
	so.logger.Debug().
		Uint64("handle", uint64(so.handle)).
		Str("sources", src.Name).
		Int("primary_keys", len(so.primaryKeyColumns)).
		Msg("[initialize][scan-opaque]")
	return so, nil
}

// Handle returns the registry handle of the scan.
func (so *Opaque) Handle() registry.Handle { return so.handle }

// Index returns the scanned index.
func (so *Opaque) Index() *types.Index { return so.index }

// Keys returns the current scan keys.
func (so *Opaque) Keys() []types.ScanKey { return so.keys }

// Recheck reports whether the host must recheck delivered rows.
func (so *Opaque) Recheck() bool { return so.recheck }

// SetParallel attaches the shared state of a parallel scan.
func (so *Opaque) SetParallel(shared *parallel.Shared) { so.parallel = shared }

// Info implements registry.Scan.
func (so *Opaque) Info() registry.Info {
	info := registry.Info{
		Handle:   so.handle,
		IndexOID: so.index.OID,
		HeapOID:  so.index.HeapOID,
		Sources:  so.sources.Name,
		Keys:     len(so.keys),
		Cursor:   "none",
	}
	if so.cursor != nil {
		info.Cursor = so.cursor.path
	}
	return info
}

// Rescan discards the cursor and the result tables and replaces the keys.
// The primary key columns and the score scratch table are kept.
func (so *Opaque) Rescan(ctx context.Context, keys []types.ScanKey) error {
	if so.closed {
		return types.ErrScanClosed
	}
	so.arena.reset()
	err := so.reinit(ctx)
	so.keys = append(so.keys[:0], keys...)
	return err
}

// ResetParallel starts the next generation of a parallel scan.
func (so *Opaque) ResetParallel() {
	so.parallel.Reset()
}

func (so *Opaque) tableName(kind string) string {
	return fmt.Sprintf("%s_%d_%d", kind, so.handle, so.generation)
}

func tempIdent(name string) string {
	return "temp." + expr.QuoteIdent(name)
}

func (so *Opaque) createTemp(ctx context.Context, name, columns string) error {
	_, err := so.db.ExecContext(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (%s)", expr.QuoteIdent(name), columns))
	if err != nil {
		return fmt.Errorf("[scan] failed to create %s: %w", name, err)
	}
	return nil
}

func (so *Opaque) dropTemp(ctx context.Context, name *string) error {
	if *name == "" {
		return nil
	}
	_, err := so.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tempIdent(*name))
	*name = ""
	return err
}

// reinit returns the scan to the state right after Begin.
func (so *Opaque) reinit(ctx context.Context) error {
	so.currentID = 0
	so.hasScore = false
	so.cursor = nil
	so.recheck = false
	so.canReturnsComputed.ClearAll()
	so.canReturns.ClearAll()

	err := errors.Join(
		so.dropTemp(ctx, &so.ctidResolve),
		so.dropTemp(ctx, &so.sorted),
		so.dropTemp(ctx, &so.searched),
	)
	so.generation++
	return err
}

// Finalize implements registry.Scan. It releases everything the scan owns
// and may run on a partially initialized scan more than once.
func (so *Opaque) Finalize(ctx context.Context) error {
	if so == nil || so.closed {
		return nil
	}
	so.closed = true
	so.primaryKeyColumns = nil
	so.arena.reset()

	if so.deps.Engine.Finished() {
		// The connection and its temp tables are gone already.
		return nil
	}
	err := errors.Join(so.dropTemp(ctx, &so.scoreTargets), so.reinit(ctx))
	if err != nil {
		so.logger.Warn().Err(err).Uint64("handle", uint64(so.handle)).Msg("[finalize][scan-opaque] failed to drop temp tables")
		return fmt.Errorf("[scan][finalize] %w", err)
	}
	so.logger.Debug().Uint64("handle", uint64(so.handle)).Msg("[finalize][scan-opaque]")
	return nil
}

// End unregisters the scan and releases it.
func (so *Opaque) End(ctx context.Context) error {
	so.deps.Registry.Unregister(so.handle)
	return so.Finalize(ctx)
}
