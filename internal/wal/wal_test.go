package wal_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/wal"
	"github.com/dshills/pgrnscan/pkg/types"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Path = ":memory:"
	e := engine.New(cfg)
	t.Cleanup(func() { _ = e.Finalize() })

	db, err := e.EnsureDatabase(context.Background())
	require.NoError(t, err)
	return db
}

func TestInsertEntry(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			ctx := context.Background()
			db := newTestDB(t)
			log := wal.New(config.WALConfig{Enabled: true, Compress: compress}, zerolog.Nop(), nil)

			txn := log.Start(10, "Sources1", 2)
			require.NoError(t, txn.Key(uint64(1<<16|3)))
			require.NoError(t, txn.Column("title", "hello"))
			require.NoError(t, txn.Finish(ctx, db))

			entries, err := wal.Entries(ctx, db, 10, 0, 0)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			rec := entries[0].Record
			assert.Equal(t, wal.ActionInsert, rec.Action)
			assert.Equal(t, "Sources1", rec.Table)
			assert.Equal(t, uint64(1<<16|3), cast.ToUint64(rec.Key))
			require.Len(t, rec.Fields, 1)
			assert.Equal(t, "title", rec.Fields[0].Name)
			assert.Equal(t, "hello", rec.Fields[0].Value)

			status, err := log.Status(ctx, db, 10)
			require.NoError(t, err)
			assert.Equal(t, int64(1), status.Entries)
			assert.Equal(t, compress, status.Compressed)
		})
	}
}

func TestTxnLimits(t *testing.T) {
	log := wal.New(config.WALConfig{Enabled: true}, zerolog.Nop(), nil)

	txn := log.Start(1, "Sources1", 1)
	require.NoError(t, txn.Key(uint64(1)))
	assert.ErrorIs(t, txn.Column("extra", 1), types.ErrObjectCorrupt)

	txn.Abort()
	assert.ErrorIs(t, txn.Finish(context.Background(), nil), types.ErrInvalidArgument)
}

func TestAbortWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	log := wal.New(config.WALConfig{Enabled: true}, zerolog.Nop(), nil)

	txn := log.Start(7, "Sources7", 3)
	require.NoError(t, txn.Key(uint64(9)))
	txn.Abort()

	entries, err := wal.Entries(ctx, db, 7, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDisabledLog(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	log := wal.New(config.WALConfig{}, zerolog.Nop(), nil)

	txn := log.Start(1, "Sources1", 2)
	assert.Nil(t, txn)
	assert.NoError(t, txn.Key(uint64(1)))
	assert.NoError(t, txn.Finish(ctx, db))
	assert.NoError(t, log.Delete(ctx, db, 1, "Sources1", 5))

	status, err := log.Status(ctx, db, 1)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Zero(t, status.Entries)
}

func TestDeleteAndCorruption(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	log := wal.New(config.WALConfig{Enabled: true}, zerolog.Nop(), nil)

	require.NoError(t, log.Delete(ctx, db, 3, "Sources3", 42))
	require.NoError(t, log.Delete(ctx, db, 3, "Sources3", 43))

	entries, err := wal.Entries(ctx, db, 3, 0, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, wal.ActionDelete, entries[0].Record.Action)
	assert.Equal(t, uint64(42), cast.ToUint64(entries[0].Record.Key))

	_, err = db.ExecContext(ctx, "UPDATE pgrn_wal SET checksum = ~checksum WHERE position = ?", entries[0].Position)
	require.NoError(t, err)
	_, err = wal.Entries(ctx, db, 3, 0, 0)
	assert.ErrorIs(t, err, types.ErrObjectCorrupt)
}
