package am

import (
	"context"
	"time"

	"github.com/dshills/pgrnscan/internal/scan"
	"github.com/dshills/pgrnscan/pkg/types"
)

// ScoreByRow returns the score the live scans give row. Rows are found
// through their primary key. A row no scan matched scores 0.
func (am *AccessMethod) ScoreByRow(ctx context.Context, row types.Row) (float64, error) {
	start := time.Now()
	score, err := scan.ScoreByRow(ctx, am.registry, row)
	am.metrics.Observe("score", start, err)
	return score, err
}

// ScoreByCtid returns the score the live scans give the row of tableOID at
// ctid, following updates of the row.
func (am *AccessMethod) ScoreByCtid(ctx context.Context, tableOID uint32, ctid types.Ctid) (float64, error) {
	start := time.Now()
	score, err := scan.ScoreByCtid(ctx, am.registry, tableOID, ctid)
	am.metrics.Observe("score", start, err)
	return score, err
}
