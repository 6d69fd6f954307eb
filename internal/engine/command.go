package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cast"

	"github.com/dshills/pgrnscan/internal/expr"
	"github.com/dshills/pgrnscan/internal/logging"
	"github.com/dshills/pgrnscan/internal/wal"
	"github.com/dshills/pgrnscan/pkg/types"
)

// Return codes of the command envelope
const (
	RCSuccess         = 0
	RCUnknownError    = -1
	RCInvalidArgument = -22
	RCSyntaxError     = -63
)

// Response is the envelope of a command result. Head, Body and Foot
// concatenated form one JSON array.
type Response struct {
	RC   int
	Head string
	Body string
	Foot string
}

func (r Response) String() string {
	return r.Head + r.Body + r.Foot
}

type commandFunc func(e *Engine, ctx context.Context, db *sql.DB, args map[string]string) (any, error)

type commandSpec struct {
	params []string // in positional order
	run    commandFunc
}

var commands map[string]commandSpec

func init() {
	commands = map[string]commandSpec{
		"status":       {run: (*Engine).commandStatus},
		"table_list":   {run: (*Engine).commandTableList},
		"column_list":  {params: []string{"table"}, run: (*Engine).commandColumnList},
		"object_exist": {params: []string{"name"}, run: (*Engine).commandObjectExist},
		"select":       {params: []string{"table", "filter", "limit"}, run: (*Engine).commandSelect},
		"log_level":    {params: []string{"level"}, run: (*Engine).commandLogLevel},
		"wal_status":   {params: []string{"index_oid", "after", "limit"}, run: (*Engine).commandWALStatus},
	}
}

// CommandNames lists the supported commands.
func CommandNames() []string {
	return []string{"status", "table_list", "column_list", "object_exist", "select", "log_level", "wal_status"}
}

// Command runs a raw command line such as
//
//	select Sources1 --filter 'title @ "go"' --limit 5
//
// Command failures are reported in the envelope. The error is only set when
// the database can't be used at all.
func (e *Engine) Command(ctx context.Context, raw string) (Response, error) {
	start := time.Now()
	words, err := splitCommand(raw)
	if err != nil {
		return errorResponse(start, err), nil
	}
	if len(words) == 0 {
		return errorResponse(start, fmt.Errorf("empty command: %w", types.ErrSyntax)), nil
	}

	name := words[0]
	spec, ok := commands[name]
	if !ok {
		return errorResponse(start, fmt.Errorf("invalid command name: %s: %w", name, types.ErrInvalidArgument)), nil
	}

	args := map[string]string{}
	positional := 0
	for i := 1; i < len(words); i++ {
		w := words[i]
		if strings.HasPrefix(w, "--") {
			if i+1 >= len(words) {
				return errorResponse(start, fmt.Errorf("missing value for %s: %w", w, types.ErrSyntax)), nil
			}
			args[strings.TrimPrefix(w, "--")] = words[i+1]
			i++
			continue
		}
		if positional >= len(spec.params) {
			return errorResponse(start, fmt.Errorf("too many arguments for %s: %w", name, types.ErrInvalidArgument)), nil
		}
		args[spec.params[positional]] = w
		positional++
	}
	return e.run(ctx, start, name, spec, args)
}

// CommandArgs runs name with flattened name/value pairs.
func (e *Engine) CommandArgs(ctx context.Context, name string, flat []string) (Response, error) {
	start := time.Now()
	spec, ok := commands[name]
	if !ok {
		return errorResponse(start, fmt.Errorf("invalid command name: %s: %w", name, types.ErrInvalidArgument)), nil
	}
	if len(flat)%2 != 0 {
		return errorResponse(start, fmt.Errorf("arguments must be name/value pairs: %w", types.ErrInvalidArgument)), nil
	}
	args := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		args[strings.TrimPrefix(flat[i], "--")] = flat[i+1]
	}
	return e.run(ctx, start, name, spec, args)
}

func (e *Engine) run(ctx context.Context, start time.Time, name string, spec commandSpec, args map[string]string) (Response, error) {
	for k := range args {
		if !contains(spec.params, k) {
			return errorResponse(start, fmt.Errorf("unknown argument %s for %s: %w", k, name, types.ErrInvalidArgument)), nil
		}
	}

	db, err := e.EnsureDatabase(ctx)
	if err != nil {
		return Response{}, err
	}

	body, err := spec.run(e, ctx, db, args)
	if err != nil {
		e.logger.Debug().Err(err).Str("command", name).Msg("[command] failed")
		return errorResponse(start, err), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return errorResponse(start, err), nil
	}
	return Response{
		RC:   RCSuccess,
		Head: fmt.Sprintf("[[%d,%s,%s],", RCSuccess, formatTime(start), formatElapsed(start)),
		Body: string(data),
		Foot: "]",
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

func formatElapsed(start time.Time) string {
	return strconv.FormatFloat(time.Since(start).Seconds(), 'f', 6, 64)
}

func returnCode(err error) int {
	switch {
	case errors.Is(err, types.ErrSyntax):
		return RCSyntaxError
	case errors.Is(err, types.ErrInvalidArgument),
		errors.Is(err, types.ErrSourcesNotFound),
		errors.Is(err, types.ErrColumnNotFound),
		errors.Is(err, types.ErrNotImplemented):
		return RCInvalidArgument
	default:
		return RCUnknownError
	}
}

func errorResponse(start time.Time, err error) Response {
	rc := returnCode(err)
	msg, _ := json.Marshal(err.Error())
	return Response{
		RC:   rc,
		Head: fmt.Sprintf("[[%d,%s,%s,%s]", rc, formatTime(start), formatElapsed(start), msg),
		Foot: "]",
	}
}

// splitCommand splits a command line into words with shell quoting rules.
// Unquoted shell operators such as '<' or '|' end the line early and are
// rejected.
func splitCommand(raw string) ([]string, error) {
	p := shellwords.NewParser()
	words, err := p.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrSyntax)
	}
	if p.Position >= 0 {
		return nil, fmt.Errorf("unquoted operator at %d in command: %w", p.Position, types.ErrSyntax)
	}
	return words, nil
}

func required(args map[string]string, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required: %w", name, types.ErrInvalidArgument)
	}
	return v, nil
}

func optional(args map[string]string, name, fallback string) string {
	if v, ok := args[name]; ok && v != "" {
		return v
	}
	return fallback
}

func (e *Engine) commandStatus(ctx context.Context, db *sql.DB, _ map[string]string) (any, error) {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return nil, err
	}
	var nSources int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pgrn_sources").Scan(&nSources); err != nil {
		return nil, err
	}
	return map[string]any{
		"version":    version,
		"driver":     DriverName,
		"build_mode": BuildMode,
		"start_time": e.started.Unix(),
		"uptime":     int64(e.Uptime().Seconds()),
		"writable":   e.Writable(),
		"role":       e.cfg.Role,
		"wal":        e.walCfg.Enabled,
		"n_sources":  nSources,
		"path":       e.cfg.Path,
	}, nil
}

func (e *Engine) commandTableList(ctx context.Context, db *sql.DB, _ map[string]string) (any, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, type, COALESCE(sql, '') FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	type table struct{ name, kind string }
	var tables []table
	var fts []string
	for rows.Next() {
		var name, kind, ddl string
		if err := rows.Scan(&name, &kind, &ddl); err != nil {
			return nil, err
		}
		if strings.HasPrefix(strings.ToUpper(ddl), "CREATE VIRTUAL TABLE") {
			fts = append(fts, name)
			kind = "lexicon"
		}
		tables = append(tables, table{name, kind})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	body := []any{[]any{[]string{"name", "ShortText"}, []string{"kind", "ShortText"}}}
	for _, t := range tables {
		shadow := false
		for _, f := range fts {
			if strings.HasPrefix(t.name, f+"_") {
				shadow = true
				break
			}
		}
		if !shadow {
			body = append(body, []string{t.name, t.kind})
		}
	}
	return body, nil
}

func (e *Engine) commandColumnList(ctx context.Context, db *sql.DB, args map[string]string) (any, error) {
	table, err := required(args, "table")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	body := []any{[]any{
		[]string{"name", "ShortText"}, []string{"type", "ShortText"},
		[]string{"not_null", "Bool"}, []string{"primary_key", "Bool"},
	}}
	n := 0
	for rows.Next() {
		var name, typ string
		var notNull, pk int
		if err := rows.Scan(&name, &typ, &notNull, &pk); err != nil {
			return nil, err
		}
		body = append(body, []any{name, typ, notNull != 0, pk != 0})
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("table doesn't exist: %s: %w", table, types.ErrInvalidArgument)
	}
	return body, nil
}

func objectExists(ctx context.Context, q Querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE name = ?", name).Scan(&n)
	return n > 0, err
}

func (e *Engine) commandObjectExist(ctx context.Context, db *sql.DB, args map[string]string) (any, error) {
	name, err := required(args, "name")
	if err != nil {
		return nil, err
	}
	return objectExists(ctx, db, name)
}

func (e *Engine) commandSelect(ctx context.Context, db *sql.DB, args map[string]string) (any, error) {
	table, err := required(args, "table")
	if err != nil {
		return nil, err
	}
	exists, err := objectExists(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("table doesn't exist: %s: %w", table, types.ErrInvalidArgument)
	}

	limit := 10
	if v, ok := args["limit"]; ok {
		if limit, err = cast.ToIntE(v); err != nil {
			return nil, fmt.Errorf("invalid limit %q: %w", v, types.ErrInvalidArgument)
		}
	}

	where := expr.Fragment{SQL: "1"}
	if filter := args["filter"]; filter != "" {
		src, err := lookupSources(ctx, db, "table_name = ?", table)
		if err != nil {
			return nil, err
		}
		node, err := expr.ParseScript(filter, src)
		if err != nil {
			return nil, err
		}
		rendered, err := expr.Render(node, "s")
		if err != nil {
			return nil, err
		}
		where = rendered.Where
	}

	from := expr.QuoteIdent(table) + " AS s WHERE " + where.SQL
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+from, where.Args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+from+" LIMIT ?", append(where.Args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	header := make([]any, len(columnTypes))
	for i, ct := range columnTypes {
		header[i] = []string{ct.Name(), ct.DatabaseTypeName()}
	}

	result := []any{[]int{count}, header}
	for rows.Next() {
		values := make([]any, len(columnTypes))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return []any{result}, nil
}

func (e *Engine) commandLogLevel(_ context.Context, _ *sql.DB, args map[string]string) (any, error) {
	name, err := required(args, "level")
	if err != nil {
		return nil, err
	}
	if _, err := logging.SetLevel(name); err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrInvalidArgument)
	}
	return true, nil
}

func (e *Engine) commandWALStatus(ctx context.Context, db *sql.DB, args map[string]string) (any, error) {
	v, err := required(args, "index_oid")
	if err != nil {
		return nil, err
	}
	oid, err := cast.ToUint32E(v)
	if err != nil {
		return nil, fmt.Errorf("invalid index_oid %q: %w", v, types.ErrInvalidArgument)
	}
	status, err := wal.New(e.walCfg, e.logger, e.metrics).Status(ctx, db, oid)
	if err != nil {
		return nil, err
	}
	_, hasAfter := args["after"]
	_, hasLimit := args["limit"]
	if !hasAfter && !hasLimit {
		return status, nil
	}

	after, err := cast.ToInt64E(optional(args, "after", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid after %q: %w", args["after"], types.ErrInvalidArgument)
	}
	limit, err := cast.ToIntE(optional(args, "limit", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid limit %q: %w", args["limit"], types.ErrInvalidArgument)
	}
	entries, err := wal.Entries(ctx, db, oid, after, limit)
	if err != nil {
		return nil, err
	}
	type walEntry struct {
		Position int64  `json:"position"`
		Action   string `json:"action"`
		Table    string `json:"table"`
		Key      any    `json:"key,omitempty"`
	}
	out := struct {
		wal.Status
		Recent []walEntry `json:"recent"`
	}{Status: status, Recent: make([]walEntry, 0, len(entries))}
	for _, en := range entries {
		out.Recent = append(out.Recent, walEntry{
			Position: en.Position,
			Action:   string(en.Record.Action),
			Table:    en.Record.Table,
			Key:      en.Record.Key,
		})
	}
	return out, nil
}
