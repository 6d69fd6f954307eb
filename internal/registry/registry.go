// Package registry tracks the live scans of the process.
//
// A scan registers itself when it begins and unregisters when it ends. The
// registry lets score functions called outside a scan find the scans that
// computed a score, and lets a transaction abort release the scans that
// never reached their end.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/metrics"
)

// Handle identifies a registered scan. Handles are never reused.
type Handle uint64

// Info describes a registered scan.
type Info struct {
	Handle   Handle `json:"handle"`
	IndexOID uint32 `json:"index_oid"`
	HeapOID  uint32 `json:"heap_oid"`
	Sources  string `json:"sources"`
	Keys     int    `json:"keys"`
	Cursor   string `json:"cursor"`
}

// Scan is the part of a scan state the registry needs.
type Scan interface {
	// Finalize releases everything the scan owns. It must tolerate a
	// partially initialized scan and repeated calls.
	Finalize(ctx context.Context) error
	Info() Info
}

// Registry is the process-wide set of live scans.
type Registry struct {
	scans   *xsync.MapOf[Handle, Scan]
	next    atomic.Uint64
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an empty registry.
func New(logger zerolog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		scans:   xsync.NewMapOf[Handle, Scan](),
		logger:  logger,
		metrics: m,
	}
}

// Register adds s and returns its handle.
func (r *Registry) Register(s Scan) Handle {
	h := Handle(r.next.Add(1))
	r.scans.Store(h, s)
	r.metrics.ScanRegistered()
	return h
}

// Reserve returns a fresh handle without registering anything, for scans
// that need their handle before they can be stored.
func (r *Registry) Reserve() Handle {
	return Handle(r.next.Add(1))
}

// Store registers s under a handle obtained from Reserve.
func (r *Registry) Store(h Handle, s Scan) {
	r.scans.Store(h, s)
	r.metrics.ScanRegistered()
}

// Unregister removes the scan of h. It reports whether it was registered.
func (r *Registry) Unregister(h Handle) bool {
	_, ok := r.scans.LoadAndDelete(h)
	if ok {
		r.metrics.ScanUnregistered(1)
	}
	return ok
}

// Lookup returns the scan registered under h.
func (r *Registry) Lookup(h Handle) (Scan, bool) {
	return r.scans.Load(h)
}

// Range calls fn for every live scan until fn returns false.
func (r *Registry) Range(fn func(h Handle, s Scan) bool) {
	r.scans.Range(fn)
}

// Len returns the number of live scans.
func (r *Registry) Len() int {
	return r.scans.Size()
}

// Snapshot describes every live scan, ordered by handle.
func (r *Registry) Snapshot() []Info {
	var infos []Info
	r.scans.Range(func(h Handle, s Scan) bool {
		info := s.Info()
		info.Handle = h
		infos = append(infos, info)
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos
}

// DrainAll unregisters and finalizes every live scan. It is called when a
// transaction aborts and is safe to call repeatedly. All finalize errors are
// returned joined.
func (r *Registry) DrainAll(ctx context.Context) error {
	var handles []Handle
	r.scans.Range(func(h Handle, _ Scan) bool {
		handles = append(handles, h)
		return true
	})
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var errs []error
	drained := 0
	for _, h := range handles {
		s, ok := r.scans.LoadAndDelete(h)
		if !ok {
			continue
		}
		drained++
		if err := s.Finalize(ctx); err != nil {
			r.logger.Warn().Err(err).Uint64("handle", uint64(h)).Msg("[registry][drain] failed to finalize scan")
			errs = append(errs, fmt.Errorf("scan %d: %w", h, err))
		}
	}
	if drained > 0 {
		r.metrics.ScanUnregistered(drained)
		r.logger.Debug().Int("scans", drained).Msg("[registry][drain]")
	}
	return errors.Join(errs...)
}
