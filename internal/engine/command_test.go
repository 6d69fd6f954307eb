package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/wal"
	"github.com/dshills/pgrnscan/pkg/types"
)

func seedCommandEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.CreateSources(ctx, testIndex(1))
	require.NoError(t, err)

	db, err := e.EnsureDatabase(ctx)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO Sources1 (ctid, id, title) VALUES
		(65537, 1, 'hello world'), (65538, 2, 'hello again'), (65539, 3, 'goodbye')`)
	require.NoError(t, err)
	return e
}

// decode splits a response into its header and body.
func decode(t *testing.T, resp Response) ([]any, json.RawMessage) {
	t.Helper()
	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(resp.String()), &parts), resp.String())
	var head []any
	require.NoError(t, json.Unmarshal(parts[0], &head))
	if len(parts) < 2 {
		return head, nil
	}
	return head, parts[1]
}

func TestCommandStatus(t *testing.T) {
	e := seedCommandEngine(t)
	resp, err := e.Command(context.Background(), "status")
	require.NoError(t, err)
	assert.Equal(t, RCSuccess, resp.RC)
	assert.True(t, strings.HasPrefix(resp.Head, "[[0,"))

	head, body := decode(t, resp)
	assert.Len(t, head, 3)
	var status map[string]any
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, float64(1), status["n_sources"])
	assert.Equal(t, DriverName, status["driver"])
	assert.Equal(t, true, status["writable"])
}

func TestCommandTableList(t *testing.T) {
	e := seedCommandEngine(t)
	resp, err := e.Command(context.Background(), "table_list")
	require.NoError(t, err)

	_, body := decode(t, resp)
	text := string(body)
	assert.Contains(t, text, `["Sources1","table"]`)
	assert.Contains(t, text, `["Lexicon1_1","lexicon"]`)
	assert.Contains(t, text, `["pgrn_sources","table"]`)
	assert.NotContains(t, text, "Lexicon1_1_data")
}

func TestCommandColumnList(t *testing.T) {
	e := seedCommandEngine(t)
	ctx := context.Background()

	resp, err := e.Command(ctx, "column_list Sources1")
	require.NoError(t, err)
	_, body := decode(t, resp)
	assert.Contains(t, string(body), `["title","TEXT",false,false]`)

	resp, err = e.Command(ctx, "column_list --table Missing")
	require.NoError(t, err)
	assert.Equal(t, RCInvalidArgument, resp.RC)
}

func TestCommandSelect(t *testing.T) {
	e := seedCommandEngine(t)
	ctx := context.Background()

	t.Run("filter", func(t *testing.T) {
		resp, err := e.Command(ctx, `select Sources1 --filter 'title @ "hello"' --limit 1`)
		require.NoError(t, err)
		require.Equal(t, RCSuccess, resp.RC, resp.String())

		_, body := decode(t, resp)
		var result [][]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &result))
		require.Len(t, result, 1)
		assert.JSONEq(t, "[2]", string(result[0][0]))
		assert.Len(t, result[0], 3) // count, header, one record
	})

	t.Run("all records", func(t *testing.T) {
		resp, err := e.CommandArgs(ctx, "select", []string{"--table", "Sources1", "limit", "-1"})
		require.NoError(t, err)
		_, body := decode(t, resp)
		var result [][]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &result))
		assert.JSONEq(t, "[3]", string(result[0][0]))
		assert.Len(t, result[0], 5)
	})

	t.Run("syntax error", func(t *testing.T) {
		resp, err := e.Command(ctx, `select Sources1 --filter 'title @'`)
		require.NoError(t, err)
		assert.Equal(t, RCSyntaxError, resp.RC)
		assert.Empty(t, resp.Body)
		head, _ := decode(t, resp)
		assert.Len(t, head, 4)
	})

	t.Run("missing table", func(t *testing.T) {
		resp, err := e.Command(ctx, `select "no such"`)
		require.NoError(t, err)
		assert.Equal(t, RCInvalidArgument, resp.RC)
	})
}

func TestCommandErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
		rc   int
	}{
		{"unknown command", "drop_everything", RCInvalidArgument},
		{"empty", "   ", RCSyntaxError},
		{"unterminated quote", `object_exist "Sources`, RCSyntaxError},
		{"too many arguments", "object_exist a b", RCInvalidArgument},
		{"unknown argument", "status --verbose yes", RCInvalidArgument},
		{"missing value", "object_exist --name", RCSyntaxError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Command(ctx, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.rc, resp.RC)
		})
	}

	resp, err := e.CommandArgs(ctx, "object_exist", []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, RCInvalidArgument, resp.RC)
}

func TestCommandObjectExistAndLogLevel(t *testing.T) {
	e := seedCommandEngine(t)
	ctx := context.Background()

	resp, err := e.Command(ctx, "object_exist Sources1")
	require.NoError(t, err)
	assert.Equal(t, "true", resp.Body)

	resp, err = e.Command(ctx, "object_exist Sources2")
	require.NoError(t, err)
	assert.Equal(t, "false", resp.Body)

	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	resp, err = e.Command(ctx, "log_level debug")
	require.NoError(t, err)
	assert.Equal(t, RCSuccess, resp.RC)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	resp, err = e.Command(ctx, "log_level loud")
	require.NoError(t, err)
	assert.Equal(t, RCInvalidArgument, resp.RC)
}

func TestCommandWALStatus(t *testing.T) {
	e := newTestEngine(t)
	resp, err := e.Command(context.Background(), "wal_status 1001")
	require.NoError(t, err)
	require.Equal(t, RCSuccess, resp.RC)
	assert.JSONEq(t, `{"enabled":false,"compressed":false,"entries":0,"last_position":0,"bytes":0}`, resp.Body)

	resp, err = e.Command(context.Background(), "wal_status abc")
	require.NoError(t, err)
	assert.Equal(t, RCInvalidArgument, resp.RC)
}

func TestCommandWALStatusRecent(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Path = ":memory:"
	cfg.WAL.Enabled = true
	e := New(cfg)
	t.Cleanup(func() { _ = e.Finalize() })
	ctx := context.Background()

	db, err := e.EnsureDatabase(ctx)
	require.NoError(t, err)
	log := wal.New(e.WALConfig(), e.Logger(), nil)
	for key := uint64(1); key <= 3; key++ {
		require.NoError(t, log.Delete(ctx, db, 1001, "Sources1", key))
	}
	require.NoError(t, log.Delete(ctx, db, 1002, "Sources2", 9))

	t.Run("limit", func(t *testing.T) {
		resp, err := e.Command(ctx, "wal_status 1001 --limit 2")
		require.NoError(t, err)
		require.Equal(t, RCSuccess, resp.RC)
		var body struct {
			Entries int64 `json:"entries"`
			Recent  []struct {
				Position int64  `json:"position"`
				Action   string `json:"action"`
				Table    string `json:"table"`
				Key      uint64 `json:"key"`
			} `json:"recent"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
		assert.Equal(t, int64(3), body.Entries)
		require.Len(t, body.Recent, 2)
		assert.Equal(t, "delete", body.Recent[0].Action)
		assert.Equal(t, "Sources1", body.Recent[0].Table)
		assert.Equal(t, uint64(1), body.Recent[0].Key)
		assert.Equal(t, uint64(2), body.Recent[1].Key)
	})

	t.Run("after", func(t *testing.T) {
		resp, err := e.Command(ctx, "wal_status 1001 --after 2")
		require.NoError(t, err)
		require.Equal(t, RCSuccess, resp.RC)
		var body struct {
			Recent []struct {
				Position int64 `json:"position"`
			} `json:"recent"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
		require.Len(t, body.Recent, 1)
		assert.Equal(t, int64(3), body.Recent[0].Position)
	})

	t.Run("no entry arguments", func(t *testing.T) {
		resp, err := e.Command(ctx, "wal_status 1001")
		require.NoError(t, err)
		assert.NotContains(t, resp.Body, "recent")
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp, err := e.Command(ctx, "wal_status 1001 --limit many")
		require.NoError(t, err)
		assert.Equal(t, RCInvalidArgument, resp.RC)
	})
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"plain", "column_list Sources1", []string{"column_list", "Sources1"}},
		{"quoted", `select T --filter 'a @ "b c"' --limit\ 2`, []string{"select", "T", "--filter", `a @ "b c"`, "--limit 2"}},
		{"escaped quote in double quotes", `object_exist "a\"b"`, []string{"object_exist", `a"b`}},
		{"single quotes keep backslashes", `object_exist 'a\b'`, []string{"object_exist", `a\b`}},
		{"empty word", `object_exist ''`, []string{"object_exist", ""}},
		{"quoted operator", `select T --filter 'id < 5'`, []string{"select", "T", "--filter", "id < 5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, err := splitCommand(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, words)
		})
	}

	for _, raw := range []string{`object_exist "Sources`, `object_exist 'Sources`, `select T --filter id < 5`} {
		_, err := splitCommand(raw)
		assert.ErrorIs(t, err, types.ErrSyntax, raw)
	}
}
