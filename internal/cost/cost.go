// Package cost estimates the planner cost of index scans by compiling each
// key and counting the records it matches.
package cost

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/compiler"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/internal/logging"
	"github.com/dshills/pgrnscan/internal/metrics"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Planner cost constants.
const (
	CPUIndexTupleCost = 0.005
	RandomPageCost    = 4.0
	// RowsPerPage is the number of records assumed to share one page.
	RowsPerPage = 64
)

// Estimate is the cost of scanning an index with a set of keys.
type Estimate struct {
	StartupCost float64
	TotalCost   float64
	Selectivity float64
	Correlation float64
	Pages       float64
}

// Estimator computes Estimates against the engine.
type Estimator struct {
	engine  *engine.Engine
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an Estimator.
func New(e *engine.Engine) *Estimator {
	return &Estimator{
		engine:  e,
		logger:  logging.Component(e.Logger(), "cost"),
		metrics: e.Metrics(),
	}
}

// Estimate combines the selectivity of every key, treating keys as
// independent, and derives the costs from the number of matching records.
func (es *Estimator) Estimate(ctx context.Context, index *types.Index, keys []types.ScanKey) (est Estimate, err error) {
	start := time.Now()
	defer func() { es.metrics.Observe("cost_estimate", start, err) }()

	src, err := es.engine.LookupSources(ctx, index.RelFileNode)
	if err != nil {
		return Estimate{}, fmt.Errorf("[cost-estimate] %w", err)
	}
	db, err := es.engine.EnsureDatabase(ctx)
	if err != nil {
		return Estimate{}, err
	}

	var nRecords int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+expr.QuoteIdent(src.Name)).Scan(&nRecords); err != nil {
		return Estimate{}, fmt.Errorf("[cost-estimate] failed to count records: %w", err)
	}

	est.Selectivity = 1.0
	for _, key := range keys {
		s, err := es.keySelectivity(ctx, db, src, index, key, nRecords)
		if err != nil {
			return Estimate{}, err
		}
		est.Selectivity *= s
	}
	est.Selectivity = math.Min(math.Max(est.Selectivity, 0), 1)

	rows := est.Selectivity * float64(nRecords)
	est.Pages = math.Ceil(rows / RowsPerPage)
	est.TotalCost = rows*CPUIndexTupleCost + est.Pages*RandomPageCost
	es.logger.Debug().
		Str("index", index.Name).
		Int("keys", len(keys)).
		Float64("selectivity", est.Selectivity).
		Float64("total", est.TotalCost).
		Msg("[cost-estimate]")
	return est, nil
}

// keySelectivity is the fraction of the nRecords records that key matches.
// A rejected key or a condition that can't match selects nothing.
func (es *Estimator) keySelectivity(ctx context.Context, q engine.Querier, src *engine.Sources, index *types.Index,
	key types.ScanKey, nRecords int64) (float64, error) {
	data, err := compiler.Compile(src, index, []types.ScanKey{key}, false)
	if err != nil {
		return 0, err
	}
	defer data.Close()
	if data.Rejected > 0 || data.IsEmptyCondition {
		return 0, nil
	}
	if _, ok := data.Node().(expr.False); ok {
		return 0, nil
	}

	rendered, err := data.Render("s")
	if err != nil {
		return 0, err
	}
	var estimated int64
	err = q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s AS s WHERE %s", expr.QuoteIdent(src.Name), rendered.Where.SQL),
		rendered.Where.Args...).Scan(&estimated)
	if err != nil {
		return 0, fmt.Errorf("[cost-estimate] failed to estimate: %w", err)
	}

	if estimated > nRecords {
		estimated = int64(float64(nRecords) * 0.8)
	}
	if estimated == nRecords {
		return 0.01, nil
	}
	return float64(estimated) / float64(nRecords), nil
}
