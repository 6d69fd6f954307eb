package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/pgrnscan/internal/domain"
	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Column is a data column of a sources table.
type Column struct {
	expr.Column
	Attno int // 1-based index column number
}

// Sources is the engine table mirroring the rows of one index.
type Sources struct {
	RelFileNode   uint32
	IndexOID      uint32
	HeapOID       uint32
	Name          string
	Keyed         bool
	Columns       []Column
	MaxRecordSize int
}

// SourcesName returns the sources table name of a relfilenode.
func SourcesName(relFileNode uint32) string {
	return fmt.Sprintf("Sources%d", relFileNode)
}

// LexiconName returns the lexicon name of the n-th (0-based) index column.
func LexiconName(relFileNode uint32, n int) string {
	return fmt.Sprintf("Lexicon%d_%d", relFileNode, n)
}

// CtidColumn is the column holding the packed ctid: the unique key of a
// keyed table and a plain column otherwise.
func (s *Sources) CtidColumn() string {
	if s.Keyed {
		return "_key"
	}
	return "ctid"
}

// Column returns the column of 1-based index column attno.
func (s *Sources) Column(attno int) (Column, bool) {
	if attno < 1 || attno > len(s.Columns) {
		return Column{}, false
	}
	return s.Columns[attno-1], true
}

// Lookup implements expr.Schema.
func (s *Sources) Lookup(name string) (expr.Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Column, true
		}
	}
	return expr.Column{}, false
}

var tokenizerPattern = regexp.MustCompile(`^[A-Za-z0-9_ ]+$`)

// CreateSources creates the sources table and lexicons of index. Everything
// is created in one transaction, so a failure leaves nothing behind.
func (e *Engine) CreateSources(ctx context.Context, index *types.Index) (*Sources, error) {
	db, err := e.EnsureDatabase(ctx)
	if err != nil {
		return nil, err
	}

	src := &Sources{
		RelFileNode: index.RelFileNode,
		IndexOID:    index.OID,
		HeapOID:     index.HeapOID,
		Name:        SourcesName(index.RelFileNode),
		Keyed:       index.Keyed,
	}
	for i, ic := range index.Columns {
		c := Column{
			Column: expr.Column{
				Name:      ic.Name,
				Domain:    ic.Type,
				Vector:    ic.Type.IsArray(),
				Tokenizer: ic.EffectiveTokenizer(),
				Sections:  1,
			},
			Attno: i + 1,
		}
		if c.Tokenizer != "" && !tokenizerPattern.MatchString(c.Tokenizer) {
			return nil, fmt.Errorf("[sources][create] invalid tokenizer %q: %w", c.Tokenizer, types.ErrInvalidArgument)
		}
		switch {
		case c.Tokenizer != "":
			c.Lexicon = LexiconName(index.RelFileNode, i)
			if c.Vector {
				c.Sections = e.cfg.FTSSections
			}
		case !c.Vector && c.Domain != types.TypeJSONB:
			c.Lexicon = LexiconName(index.RelFileNode, i)
		}
		src.Columns = append(src.Columns, c)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range createSourcesStatements(src) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("[sources][create] %s: %w", src.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pgrn_sources (relfilenode, index_oid, heap_oid, table_name, keyed)
		VALUES (?, ?, ?, ?, ?)`,
		src.RelFileNode, src.IndexOID, src.HeapOID, src.Name, src.Keyed); err != nil {
		return nil, fmt.Errorf("failed to register sources table: %w", err)
	}
	for _, c := range src.Columns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pgrn_columns (relfilenode, attno, name, domain, vector, lexicon, tokenizer, sections)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			src.RelFileNode, c.Attno, c.Name, c.Domain.String(), c.Vector, c.Lexicon, c.Tokenizer, c.Sections); err != nil {
			return nil, fmt.Errorf("failed to register column %s: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sources table: %w", err)
	}
	e.logger.Debug().Str("table", src.Name).Int("columns", len(src.Columns)).Msg("[sources][create]")
	return src, nil
}

func createSourcesStatements(src *Sources) []string {
	table := expr.QuoteIdent(src.Name)

	var cols []string
	cols = append(cols, "_id INTEGER PRIMARY KEY")
	if src.Keyed {
		cols = append(cols, "_key INTEGER NOT NULL UNIQUE")
	} else {
		cols = append(cols, "ctid INTEGER NOT NULL")
	}
	for _, c := range src.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", expr.QuoteIdent(c.Name), domain.SQLType(c.Domain)))
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))}
	if !src.Keyed {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s(ctid)",
			expr.QuoteIdent(src.Name+"_ctid"), table))
	}

	for _, c := range src.Columns {
		switch {
		case c.Tokenized():
			stmts = append(stmts, lexiconStatements(src, c)...)
		case c.Lexicon != "":
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s(%s)",
				expr.QuoteIdent(c.Lexicon), table, expr.QuoteIdent(c.Name)))
		}
	}
	return stmts
}

// lexiconStatements creates an FTS5 lexicon kept in sync with the data
// column by triggers. Vector elements fill one section each and the
// remaining elements share the last section.
func lexiconStatements(src *Sources, c Column) []string {
	table := expr.QuoteIdent(src.Name)
	lex := expr.QuoteIdent(c.Lexicon)
	col := expr.QuoteIdent(c.Name)

	sections := make([]string, c.Sections)
	values := make([]string, c.Sections)
	for i := range sections {
		sections[i] = fmt.Sprintf("s%d", i)
		switch {
		case !c.Vector:
			values[i] = "new." + col
		case i < c.Sections-1:
			values[i] = fmt.Sprintf("(SELECT value FROM json_each(new.%s) WHERE key = %d)", col, i)
		default:
			values[i] = fmt.Sprintf("(SELECT group_concat(value, ' ') FROM json_each(new.%s) WHERE key >= %d)", col, i)
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s(rowid, %s) VALUES (new._id, %s);",
		lex, strings.Join(sections, ", "), strings.Join(values, ", "))
	remove := fmt.Sprintf("DELETE FROM %s WHERE rowid = old._id;", lex)

	return []string{
		fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5(%s, tokenize = '%s')",
			lex, strings.Join(sections, ", "), c.Tokenizer),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT ON %s BEGIN %s END",
			expr.QuoteIdent(c.Lexicon+"_ai"), table, insert),
		fmt.Sprintf("CREATE TRIGGER %s AFTER DELETE ON %s BEGIN %s END",
			expr.QuoteIdent(c.Lexicon+"_ad"), table, remove),
		fmt.Sprintf("CREATE TRIGGER %s AFTER UPDATE OF %s ON %s BEGIN %s %s END",
			expr.QuoteIdent(c.Lexicon+"_au"), col, table, remove, insert),
	}
}

// LookupSources returns the sources table of relFileNode.
func (e *Engine) LookupSources(ctx context.Context, relFileNode uint32) (*Sources, error) {
	db, err := e.EnsureDatabase(ctx)
	if err != nil {
		return nil, err
	}
	return lookupSources(ctx, db, "relfilenode = ?", relFileNode)
}

// LookupSourcesByName returns the sources table called name.
func (e *Engine) LookupSourcesByName(ctx context.Context, name string) (*Sources, error) {
	db, err := e.EnsureDatabase(ctx)
	if err != nil {
		return nil, err
	}
	return lookupSources(ctx, db, "table_name = ?", name)
}

func lookupSources(ctx context.Context, q Querier, where string, arg any) (*Sources, error) {
	src := &Sources{}
	err := q.QueryRowContext(ctx, `
		SELECT relfilenode, index_oid, heap_oid, table_name, keyed, max_record_size
		FROM pgrn_sources WHERE `+where, arg).
		Scan(&src.RelFileNode, &src.IndexOID, &src.HeapOID, &src.Name, &src.Keyed, &src.MaxRecordSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%v: %w", arg, types.ErrSourcesNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up sources table: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT attno, name, domain, vector, lexicon, tokenizer, sections
		FROM pgrn_columns WHERE relfilenode = ? ORDER BY attno`, src.RelFileNode)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c Column
		var domainName string
		if err := rows.Scan(&c.Attno, &c.Name, &domainName, &c.Vector, &c.Lexicon, &c.Tokenizer, &c.Sections); err != nil {
			return nil, err
		}
		c.Domain = types.ParseTypeID(domainName)
		if c.Attno != len(src.Columns)+1 {
			return nil, fmt.Errorf("[sources][lookup] %s: column %d out of order: %w", src.Name, c.Attno, types.ErrObjectCorrupt)
		}
		src.Columns = append(src.Columns, c)
	}
	return src, rows.Err()
}

// DropSources removes a sources table, its lexicons and its catalog rows.
func (e *Engine) DropSources(ctx context.Context, src *Sources) error {
	db, err := e.EnsureDatabase(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range src.Columns {
		if c.Tokenized() {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+expr.QuoteIdent(c.Lexicon)); err != nil {
				return fmt.Errorf("failed to drop lexicon %s: %w", c.Lexicon, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+expr.QuoteIdent(src.Name)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", src.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pgrn_columns WHERE relfilenode = ?", src.RelFileNode); err != nil {
		return fmt.Errorf("failed to unregister columns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pgrn_sources WHERE relfilenode = ?", src.RelFileNode); err != nil {
		return fmt.Errorf("failed to unregister %s: %w", src.Name, err)
	}
	return tx.Commit()
}

// RemoveUnused drops every sources table whose relfilenode isValid rejects
// and returns how many were removed.
func (e *Engine) RemoveUnused(ctx context.Context, isValid func(relFileNode uint32) bool) (int, error) {
	db, err := e.EnsureDatabase(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := db.QueryContext(ctx, "SELECT relfilenode FROM pgrn_sources ORDER BY relfilenode")
	if err != nil {
		return 0, fmt.Errorf("failed to list sources tables: %w", err)
	}
	var nodes []uint32
	for rows.Next() {
		var n uint32
		if err := rows.Scan(&n); err != nil {
			_ = rows.Close()
			return 0, err
		}
		nodes = append(nodes, n)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if isValid(n) {
			continue
		}
		src, err := e.LookupSources(ctx, n)
		if err != nil {
			e.logger.Warn().Err(err).Uint32("relfilenode", n).Msg("[sources][remove-unused] lookup failed")
			continue
		}
		if err := e.DropSources(ctx, src); err != nil {
			return removed, err
		}
		e.logger.Debug().Str("table", src.Name).Msg("[sources][remove-unused] dropped")
		removed++
	}
	return removed, nil
}

// IndexOnlyScanThreshold is the record size from which the max record size
// is tracked and index-only scans are refused.
const IndexOnlyScanThreshold = 0x1FFF * 0.9

// UpdateMaxRecordSize raises the recorded max record size of a sources
// table to size when it is larger.
func UpdateMaxRecordSize(ctx context.Context, q Querier, relFileNode uint32, size int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE pgrn_sources SET max_record_size = ?
		WHERE relfilenode = ? AND max_record_size < ?`, size, relFileNode, size)
	if err != nil {
		return fmt.Errorf("failed to update max record size: %w", err)
	}
	return nil
}

// MaxRecordSize returns the recorded max record size of a sources table.
func MaxRecordSize(ctx context.Context, q Querier, relFileNode uint32) (int, error) {
	var size int
	err := q.QueryRowContext(ctx, "SELECT max_record_size FROM pgrn_sources WHERE relfilenode = ?", relFileNode).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%d: %w", relFileNode, types.ErrSourcesNotFound)
	}
	return size, err
}
