// Package parallel coordinates the workers of a parallel index scan.
//
// Workers share one flag. The first worker to flip it drives the cursor and
// every other worker of the same generation reports no more rows. The work is
// not redistributed.
package parallel

import (
	"sync/atomic"
	"unsafe"
)

// Shared is the state workers of one parallel scan share.
type Shared struct {
	scanning atomic.Bool
}

// EstimateSize returns the bytes the host reserves for a Shared.
func EstimateSize() int {
	return int(unsafe.Sizeof(Shared{}))
}

// Init prepares s for a new parallel scan.
func (s *Shared) Init() {
	s.scanning.Store(false)
}

// Acquire reports whether the calling worker may drive the cursor. A worker
// that already owns an open cursor always may. A nil Shared means the scan
// isn't parallel.
func (s *Shared) Acquire(hasOpenCursor bool) bool {
	if s == nil || hasOpenCursor {
		return true
	}
	return s.scanning.CompareAndSwap(false, true)
}

// Reset starts the next generation of the parallel scan.
func (s *Shared) Reset() {
	if s == nil {
		return
	}
	s.scanning.Store(false)
}

// Scanning reports whether a worker drives the current generation.
func (s *Shared) Scanning() bool {
	return s != nil && s.scanning.Load()
}
