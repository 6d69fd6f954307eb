package am

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/dshills/pgrnscan/internal/parallel"
	"github.com/dshills/pgrnscan/internal/registry"
	"github.com/dshills/pgrnscan/internal/scan"
	"github.com/dshills/pgrnscan/pkg/types"
)

// BeginScan opens a scan of index and returns its handle. The keys arrive
// with the first Rescan.
func (am *AccessMethod) BeginScan(ctx context.Context, index *types.Index, nKeys, nOrderBys int) (registry.Handle, error) {
	so, err := scan.Begin(ctx, am.deps(), index)
	if err != nil {
		return 0, err
	}
	am.logger.Debug().
		Uint64("handle", uint64(so.Handle())).
		Str("index", index.Name).
		Int("keys", nKeys).
		Int("order_bys", nOrderBys).
		Msg("[begin-scan]")
	return so.Handle(), nil
}

func (am *AccessMethod) scan(h registry.Handle) (*scan.Opaque, error) {
	s, ok := am.registry.Lookup(h)
	if !ok {
		return nil, fmt.Errorf("scan %d: %w", h, types.ErrScanClosed)
	}
	so, ok := s.(*scan.Opaque)
	if !ok {
		return nil, fmt.Errorf("scan %d is not an index scan: %w", h, types.ErrInvalidArgument)
	}
	return so, nil
}

// Rescan restarts the scan with keys. Order-by keys aren't supported and
// are ignored.
func (am *AccessMethod) Rescan(ctx context.Context, h registry.Handle, keys, _ []types.ScanKey) error {
	so, err := am.scan(h)
	if err != nil {
		return err
	}
	return so.Rescan(ctx, keys)
}

// GetTuple returns the next row of the scan in direction dir. kill marks
// the previously returned row as dead. The index tuple is only
// reconstructed when wantIndexTuple is set.
func (am *AccessMethod) GetTuple(ctx context.Context, h registry.Handle, dir types.ScanDirection, kill, wantIndexTuple bool) (scan.Tuple, bool, error) {
	so, err := am.scan(h)
	if err != nil {
		return scan.Tuple{}, false, err
	}
	return so.GetTuple(ctx, dir, kill, wantIndexTuple)
}

// GetBitmap returns every matching row at once.
func (am *AccessMethod) GetBitmap(ctx context.Context, h registry.Handle) (*roaring64.Bitmap, int64, error) {
	so, err := am.scan(h)
	if err != nil {
		return nil, 0, err
	}
	return so.GetBitmap(ctx)
}

// EndScan closes the scan and releases its temp tables.
func (am *AccessMethod) EndScan(ctx context.Context, h registry.Handle) error {
	so, err := am.scan(h)
	if err != nil {
		return err
	}
	return so.End(ctx)
}

// EstimateParallelScanSize returns the size of the state parallel workers
// share.
func (am *AccessMethod) EstimateParallelScanSize() int {
	return parallel.EstimateSize()
}

// InitParallelScan prepares shared for a new parallel scan.
func (am *AccessMethod) InitParallelScan(shared *parallel.Shared) {
	shared.Init()
}

// AttachParallelScan makes the scan a worker of the parallel scan behind
// shared.
func (am *AccessMethod) AttachParallelScan(h registry.Handle, shared *parallel.Shared) error {
	so, err := am.scan(h)
	if err != nil {
		return err
	}
	so.SetParallel(shared)
	return nil
}

// ParallelRescan lets a worker drive the next generation of the parallel
// scan.
func (am *AccessMethod) ParallelRescan(h registry.Handle) error {
	so, err := am.scan(h)
	if err != nil {
		return err
	}
	so.ResetParallel()
	return nil
}
