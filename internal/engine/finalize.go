package engine

import (
	"errors"
	"fmt"
)

// Stage orders engine shutdown. Finalizers of an earlier stage run before
// those of a later one.
type Stage int

const (
	StageAutoClose Stage = iota
	StageNormalize
	StageTokenize
	StageKeywords
	StageHighlight
	StageFeatureTables
	StageOptions
	StageDatabase
	StageContext
	numStages
)

var stageNames = [numStages]string{
	"auto-close",
	"normalize",
	"tokenize",
	"keywords",
	"highlight",
	"feature-tables",
	"options",
	"database",
	"context",
}

func (s Stage) String() string {
	if s < 0 || s >= numStages {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

type namedFinalizer struct {
	name string
	fn   func() error
}

// RegisterFinalizer adds fn to stage. Finalizers within a stage run in
// registration order.
func (e *Engine) RegisterFinalizer(stage Stage, name string, fn func() error) {
	if stage < 0 || stage >= numStages {
		panic(fmt.Sprintf("engine: invalid finalize stage %d", stage))
	}
	e.finalizers[stage] = append(e.finalizers[stage], namedFinalizer{name: name, fn: fn})
}

// Finalize runs every registered finalizer once, stage by stage. Later
// calls return the first result.
func (e *Engine) Finalize() error {
	e.finalizeOnce.Do(func() {
		var errs []error
		for stage := Stage(0); stage < numStages; stage++ {
			for _, f := range e.finalizers[stage] {
				if err := f.fn(); err != nil {
					e.logger.Warn().Err(err).
						Str("stage", stage.String()).
						Str("finalizer", f.name).
						Msg("[engine][finalize] failed")
					errs = append(errs, fmt.Errorf("%s/%s: %w", stage, f.name, err))
				}
			}
		}
		e.finalizeErr = errors.Join(errs...)
	})
	return e.finalizeErr
}
