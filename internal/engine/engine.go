package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/metrics"
	"github.com/dshills/pgrnscan/pkg/types"
)

// CrashSafer is the companion process a secondary engine waits for before
// opening the database.
type CrashSafer interface {
	// Ready reports whether the database has been prepared for sharing.
	Ready(ctx context.Context) (bool, error)
	// Nudge wakes the companion process up.
	Nudge()
}

// Querier is implemented by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Engine is the process-wide handle to the embedded engine database. The
// database is opened on first use and closed by Finalize.
type Engine struct {
	cfg        config.EngineConfig
	walCfg     config.WALConfig
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	crashSafer CrashSafer

	mu       sync.Mutex
	db       *sql.DB
	writable atomic.Bool
	started  time.Time

	finalizeOnce sync.Once
	finalizeErr  error
	finished     atomic.Bool
	finalizers   [numStages][]namedFinalizer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the collectors the engine and its users report to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCrashSafer sets the companion waited for in the secondary role.
func WithCrashSafer(cs CrashSafer) Option {
	return func(e *Engine) { e.crashSafer = cs }
}

// New creates an engine. Nothing is opened until EnsureDatabase.
func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg.Engine,
		walCfg:  cfg.WAL,
		logger:  zerolog.Nop(),
		started: time.Now(),
	}
	e.writable.Store(cfg.Engine.Writable)
	for _, opt := range opts {
		opt(e)
	}

	e.RegisterFinalizer(StageNormalize, "function caches", func() error {
		PurgeFunctionCaches()
		return nil
	})
	e.RegisterFinalizer(StageDatabase, "database", e.closeDatabase)
	e.RegisterFinalizer(StageContext, "context", func() error {
		e.finished.Store(true)
		return nil
	})
	return e
}

// Logger returns the engine logger.
func (e *Engine) Logger() zerolog.Logger { return e.logger }

// Metrics returns the engine collectors, possibly nil.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Config returns the engine configuration.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// WALConfig returns the WAL configuration.
func (e *Engine) WALConfig() config.WALConfig { return e.walCfg }

// Writable reports whether writes to the engine are allowed.
func (e *Engine) Writable() bool { return e.writable.Load() }

// SetWritable enables or disables writes.
func (e *Engine) SetWritable(writable bool) { e.writable.Store(writable) }

// CheckWritable returns types.ErrNotWritable tagged with the operation when
// writes are disabled.
func (e *Engine) CheckWritable(tag string) error {
	if e.Writable() {
		return nil
	}
	return fmt.Errorf("%s %w", tag, types.ErrNotWritable)
}

// EnsureDatabase returns the engine database, opening it and applying
// migrations on first use. In the secondary role it first waits for the
// crash safer to report readiness.
func (e *Engine) EnsureDatabase(ctx context.Context) (*sql.DB, error) {
	if e.finished.Load() {
		return nil, types.ErrEngineFinished
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return e.db, nil
	}

	if e.cfg.Role == config.RoleSecondary {
		if err := e.waitCrashSafer(ctx); err != nil {
			return nil, err
		}
	}

	path := e.cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	e.logger.Debug().Str("path", path).Str("driver", DriverName).Msg("[engine][open]")
	e.db = db
	return db, nil
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// One connection: TEMP tables created by scans live on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

func (e *Engine) waitCrashSafer(ctx context.Context) error {
	if e.crashSafer == nil {
		return nil
	}

	timeout := time.NewTimer(e.cfg.CrashSaferWaitTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(e.cfg.CrashSaferPollInterval)
	defer ticker.Stop()

	for {
		ready, err := e.crashSafer.Ready(ctx)
		if err != nil {
			return fmt.Errorf("[engine][crash-safer] failed to check readiness: %w", err)
		}
		if ready {
			return nil
		}
		e.crashSafer.Nudge()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("[engine][crash-safer] waited %s: %w", e.cfg.CrashSaferWaitTimeout, types.ErrNotReady)
		case <-ticker.C:
		}
	}
}

func (e *Engine) closeDatabase() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// Finished reports whether Finalize has run.
func (e *Engine) Finished() bool { return e.finished.Load() }

// Uptime returns how long the engine has existed.
func (e *Engine) Uptime() time.Duration { return time.Since(e.started) }
