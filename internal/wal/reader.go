package wal

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/dshills/pgrnscan/pkg/types"
)

// Entry is one appended change.
type Entry struct {
	Position int64
	IndexOID uint32
	Record   *Record
}

// Entries returns up to limit entries of indexOID after position. A limit
// of 0 or less returns all of them.
func Entries(ctx context.Context, q Querier, indexOID uint32, after int64, limit int) ([]Entry, error) {
	query := `
		SELECT position, payload, checksum, compressed FROM pgrn_wal
		WHERE index_oid = ? AND position > ? ORDER BY position`
	args := []any{indexOID, after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read wal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			position   int64
			payload    []byte
			checksum   int64
			compressed bool
		)
		if err := rows.Scan(&position, &payload, &checksum, &compressed); err != nil {
			return nil, err
		}
		if int64(xxhash.Sum64(payload)) != checksum {
			return nil, fmt.Errorf("[wal][read] checksum mismatch at %d: %w", position, types.ErrObjectCorrupt)
		}
		rec, err := decode(payload, compressed)
		if err != nil {
			return nil, fmt.Errorf("[wal][read] broken entry at %d: %w", position, types.ErrObjectCorrupt)
		}
		entries = append(entries, Entry{Position: position, IndexOID: indexOID, Record: rec})
	}
	return entries, rows.Err()
}

// Status summarizes the entries of one index.
type Status struct {
	Enabled      bool  `json:"enabled"`
	Compressed   bool  `json:"compressed"`
	Entries      int64 `json:"entries"`
	LastPosition int64 `json:"last_position"`
	Bytes        int64 `json:"bytes"`
}

// Status returns the state of the entries of indexOID.
func (l *Log) Status(ctx context.Context, q Querier, indexOID uint32) (Status, error) {
	s := Status{Enabled: l.Enabled(), Compressed: l.Enabled() && l.cfg.Compress}
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(position), 0), COALESCE(SUM(LENGTH(payload)), 0)
		FROM pgrn_wal WHERE index_oid = ?`, indexOID).
		Scan(&s.Entries, &s.LastPosition, &s.Bytes)
	if err != nil {
		return s, fmt.Errorf("failed to read wal status: %w", err)
	}
	return s, nil
}
