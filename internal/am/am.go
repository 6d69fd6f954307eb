package am

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/cost"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/internal/indexer"
	"github.com/dshills/pgrnscan/internal/logging"
	"github.com/dshills/pgrnscan/internal/metrics"
	"github.com/dshills/pgrnscan/internal/mutation"
	"github.com/dshills/pgrnscan/internal/registry"
	"github.com/dshills/pgrnscan/internal/scan"
	"github.com/dshills/pgrnscan/internal/wal"
)

// AccessMethod implements the index access method operations.
type AccessMethod struct {
	engine   *engine.Engine
	heap     host.Heap
	catalog  host.Catalog
	registry *registry.Registry
	wal      *wal.Log
	writer   *mutation.Writer
	indexer  *indexer.Indexer
	cost     *cost.Estimator
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	buildWorkers int
}

// Option configures an AccessMethod.
type Option func(*AccessMethod)

// WithBuildWorkers sets how many workers convert rows during a build.
func WithBuildWorkers(n int) Option {
	return func(am *AccessMethod) { am.buildWorkers = n }
}

// New creates the access method of e over the host heap and catalog.
func New(e *engine.Engine, heap host.Heap, catalog host.Catalog, opts ...Option) *AccessMethod {
	logger := logging.Component(e.Logger(), "am")
	am := &AccessMethod{
		engine:  e,
		heap:    heap,
		catalog: catalog,
		logger:  logger,
		metrics: e.Metrics(),
	}
	for _, opt := range opts {
		opt(am)
	}
	am.registry = registry.New(e.Logger(), e.Metrics())
	am.wal = wal.New(e.WALConfig(), e.Logger(), e.Metrics())
	am.writer = mutation.New(e, am.wal)
	am.indexer = indexer.New(e, am.writer, am.buildWorkers)
	am.cost = cost.New(e)
	return am
}

// Engine returns the engine the access method runs on.
func (am *AccessMethod) Engine() *engine.Engine { return am.engine }

// Registry returns the registry of live scans.
func (am *AccessMethod) Registry() *registry.Registry { return am.registry }

func (am *AccessMethod) deps() scan.Deps {
	return scan.Deps{
		Engine:   am.engine,
		Heap:     am.heap,
		WAL:      am.wal,
		Registry: am.registry,
	}
}

// AbortTransaction finalizes every live scan. It is safe to call when no
// scan is open and more than once.
func (am *AccessMethod) AbortTransaction(ctx context.Context) error {
	n := am.registry.Len()
	if err := am.registry.DrainAll(ctx); err != nil {
		return fmt.Errorf("[abort] %w", err)
	}
	if n > 0 {
		am.logger.Debug().Int("scans", n).Msg("[abort] released scans")
	}
	return nil
}

// Command forwards a raw command line to the engine and returns the whole
// response envelope.
func (am *AccessMethod) Command(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	resp, err := am.engine.Command(ctx, raw)
	am.metrics.Observe("command", start, err)
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

// CommandArgs runs the named command with flattened name/value arguments.
func (am *AccessMethod) CommandArgs(ctx context.Context, name string, args []string) (string, error) {
	start := time.Now()
	resp, err := am.engine.CommandArgs(ctx, name, args)
	am.metrics.Observe("command", start, err)
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}
