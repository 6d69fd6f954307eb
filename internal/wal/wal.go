// Package wal records source record changes in the pgrn_wal table.
//
// Each entry is a msgpack record naming the sources table, the record key
// and the written columns. Payloads carry an xxhash checksum and are
// optionally zstd compressed. Entries are appended through the caller's
// querier so that they commit or roll back with the change they describe.
package wal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/ugorji/go/codec"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/metrics"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Action is the kind of change an entry records.
type Action string

const (
	ActionInsert Action = "insert"
	ActionDelete Action = "delete"
)

// Field is one written column.
type Field struct {
	Name  string `codec:"n"`
	Value any    `codec:"v"`
}

// Record is the decoded payload of an entry.
type Record struct {
	Action Action  `codec:"action"`
	Table  string  `codec:"_table"`
	Key    any     `codec:"_key,omitempty"`
	Fields []Field `codec:"fields,omitempty"`
}

// Querier is implemented by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	return h
}()

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Log appends WAL entries. A disabled Log appends nothing.
type Log struct {
	cfg     config.WALConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Log.
func New(cfg config.WALConfig, logger zerolog.Logger, m *metrics.Metrics) *Log {
	return &Log{cfg: cfg, logger: logger, metrics: m}
}

// Enabled reports whether entries are written.
func (l *Log) Enabled() bool {
	return l != nil && l.cfg.Enabled
}

type txnState int

const (
	txnOpen txnState = iota
	txnFinished
	txnAborted
)

// Txn collects one insert entry. A nil *Txn is returned by a disabled Log
// and ignores every call.
type Txn struct {
	log      *Log
	indexOID uint32
	nValid   int
	n        int
	record   Record
	state    txnState
}

// Start begins an insert entry of at most nValid values, the key included.
func (l *Log) Start(indexOID uint32, table string, nValid int) *Txn {
	if !l.Enabled() {
		return nil
	}
	return &Txn{
		log:      l,
		indexOID: indexOID,
		nValid:   nValid,
		record: Record{
			Action: ActionInsert,
			Table:  table,
			Fields: make([]Field, 0, nValid),
		},
	}
}

func (t *Txn) reserve(what string) error {
	if t.state != txnOpen {
		return fmt.Errorf("[wal][insert] %s after the entry was closed: %w", what, types.ErrInvalidArgument)
	}
	if t.n >= t.nValid {
		return fmt.Errorf("[wal][insert] %s exceeds %d values: %w", what, t.nValid, types.ErrObjectCorrupt)
	}
	t.n++
	return nil
}

// Key records the key of the inserted record.
func (t *Txn) Key(key any) error {
	if t == nil {
		return nil
	}
	if err := t.reserve("_key"); err != nil {
		return err
	}
	t.record.Key = key
	return nil
}

// Column records one written column.
func (t *Txn) Column(name string, value any) error {
	if t == nil {
		return nil
	}
	if err := t.reserve(name); err != nil {
		return err
	}
	t.record.Fields = append(t.record.Fields, Field{Name: name, Value: value})
	return nil
}

// Finish appends the entry through q.
func (t *Txn) Finish(ctx context.Context, q Querier) error {
	if t == nil {
		return nil
	}
	if t.state != txnOpen {
		return fmt.Errorf("[wal][insert] finish after the entry was closed: %w", types.ErrInvalidArgument)
	}
	t.state = txnFinished
	return t.log.append(ctx, q, t.indexOID, &t.record)
}

// Abort discards the entry. Aborting a finished entry does nothing.
func (t *Txn) Abort() {
	if t == nil || t.state != txnOpen {
		return
	}
	t.state = txnAborted
	t.log.logger.Debug().Str("table", t.record.Table).Msg("[wal][insert] aborted")
}

// Delete appends a delete entry for the record stored under key.
func (l *Log) Delete(ctx context.Context, q Querier, indexOID uint32, table string, key uint64) error {
	if !l.Enabled() {
		return nil
	}
	return l.append(ctx, q, indexOID, &Record{Action: ActionDelete, Table: table, Key: key})
}

func (l *Log) append(ctx context.Context, q Querier, indexOID uint32, rec *Record) error {
	payload, compressed, err := encode(rec, l.cfg.Compress)
	if err != nil {
		return fmt.Errorf("[wal][%s] failed to encode: %w", rec.Action, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO pgrn_wal (index_oid, action, payload, checksum, compressed)
		VALUES (?, ?, ?, ?, ?)`,
		indexOID, string(rec.Action), payload, int64(xxhash.Sum64(payload)), compressed)
	if err != nil {
		return fmt.Errorf("[wal][%s] failed to append: %w", rec.Action, err)
	}
	l.metrics.WALEntry(string(rec.Action))
	return nil
}

func encode(rec *Record, compress bool) ([]byte, bool, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(rec); err != nil {
		return nil, false, err
	}
	if !compress {
		return buf, false, nil
	}
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(buf, nil), true, nil
}

func decode(payload []byte, compressed bool) (*Record, error) {
	if compressed {
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	rec := &Record{}
	if err := codec.NewDecoderBytes(payload, msgpackHandle).Decode(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
