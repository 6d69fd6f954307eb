package indexer

import (
	"sync/atomic"
	"time"
)

// IndexLock marks one index as being built. Acquiring never blocks.
type IndexLock struct {
	building atomic.Bool
	since    atomic.Int64 // unix nanoseconds, 0 when idle
}

// TryAcquire starts a build unless one runs and reports whether it did.
func (l *IndexLock) TryAcquire() bool {
	if !l.building.CompareAndSwap(false, true) {
		return false
	}
	l.since.Store(time.Now().UnixNano())
	return true
}

// Release ends the build. Only the goroutine that acquired the lock may
// call it.
func (l *IndexLock) Release() {
	l.since.Store(0)
	l.building.Store(false)
}

// Since returns when the running build started, or the zero time.
func (l *IndexLock) Since() time.Time {
	ns := l.since.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
