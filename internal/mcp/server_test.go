package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/internal/am"
	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/host"
	"github.com/dshills/pgrnscan/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *types.Index) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Path = ":memory:"
	e := engine.New(cfg)
	t.Cleanup(func() { _ = e.Finalize() })

	heap := host.NewMemoryHeap()
	heap.CreateTable(types.Table{
		OID:  10,
		Name: "memos",
		Attributes: []types.Attribute{
			{Number: 1, Name: "title", Type: types.TypeText},
		},
	})
	index := &types.Index{
		OID: 11, Name: "memos_index", RelFileNode: 12, HeapOID: 10,
		Columns: []types.IndexColumn{{Name: "title", Type: types.TypeText, HeapAttno: 1, Family: types.FamilyFullText}},
	}
	catalog := host.NewMemoryCatalog()
	catalog.AddIndex(index)

	a := am.New(e, heap, catalog)
	require.NoError(t, a.BuildEmpty(context.Background(), index))

	s, err := NewServer(a)
	require.NoError(t, err)
	return s, index
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestServer_Initialization(t *testing.T) {
	s, _ := newTestServer(t)
	assert.NotNil(t, s.mcp, "MCP server should be initialized")
	assert.NotNil(t, s.am, "Access method should be set")
}

func TestHandleEngineCommand(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t)

	t.Run("runs the command", func(t *testing.T) {
		result, err := s.handleEngineCommand(ctx, callRequest("engine_command", map[string]interface{}{
			"command": "object_exist Sources12",
		}))
		require.NoError(t, err)
		text := resultText(t, result)
		assert.True(t, strings.HasPrefix(text, "[[0,"), text)
		assert.True(t, strings.HasSuffix(text, ",true]"), text)
	})

	t.Run("command failures are in the envelope", func(t *testing.T) {
		result, err := s.handleEngineCommand(ctx, callRequest("engine_command", map[string]interface{}{
			"command": "column_list",
		}))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(resultText(t, result), "[[-22,"))
	})

	t.Run("missing command", func(t *testing.T) {
		_, err := s.handleEngineCommand(ctx, callRequest("engine_command", map[string]interface{}{}))
		var mcpErr *MCPError
		require.True(t, errors.As(err, &mcpErr))
		assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
	})
}

func TestHandleEngineCommandArgs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(t)

	result, err := s.handleEngineCommandArgs(ctx, callRequest("engine_command_args", map[string]interface{}{
		"name": "object_exist",
		"args": []interface{}{"--name", "Sources12"},
	}))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(resultText(t, result), ",true]"))

	_, err = s.handleEngineCommandArgs(ctx, callRequest("engine_command_args", map[string]interface{}{
		"name": "object_exist",
		"args": []interface{}{"--name", 12},
	}))
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)

	_, err = s.handleEngineCommandArgs(ctx, callRequest("engine_command_args", map[string]interface{}{}))
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestHandleEngineStatus(t *testing.T) {
	ctx := context.Background()
	s, index := newTestServer(t)
	h, err := s.am.BeginScan(ctx, index, 0, 0)
	require.NoError(t, err)
	defer func() { _ = s.am.EndScan(ctx, h) }()

	result, err := s.handleEngineStatus(ctx, callRequest("engine_status", nil))
	require.NoError(t, err)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &status))
	assert.Equal(t, float64(1), status["scans"])
	assert.Equal(t, float64(1), status["n_sources"])
	assert.Equal(t, true, status["writable"])
}

func TestHandleListScans(t *testing.T) {
	ctx := context.Background()
	s, index := newTestServer(t)

	result, err := s.handleListScans(ctx, callRequest("list_scans", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"count": 0`)

	h, err := s.am.BeginScan(ctx, index, 0, 0)
	require.NoError(t, err)
	defer func() { _ = s.am.EndScan(ctx, h) }()

	result, err = s.handleListScans(ctx, callRequest("list_scans", nil))
	require.NoError(t, err)
	var response struct {
		Count int `json:"count"`
		Scans []struct {
			IndexOID uint32 `json:"index_oid"`
			Sources  string `json:"sources"`
			Cursor   string `json:"cursor"`
		} `json:"scans"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	require.Equal(t, 1, response.Count)
	assert.Equal(t, uint32(11), response.Scans[0].IndexOID)
	assert.Equal(t, "Sources12", response.Scans[0].Sources)
	assert.Equal(t, "none", response.Scans[0].Cursor)
}

func TestGetStringSlice(t *testing.T) {
	got, err := getStringSlice(map[string]interface{}{}, "args")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = getStringSlice(map[string]interface{}{"args": []string{"a"}}, "args")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)

	_, err = getStringSlice(map[string]interface{}{"args": "a"}, "args")
	assert.Error(t, err)
}
