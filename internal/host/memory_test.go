package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/pkg/types"
)

func TestMemoryHeap(t *testing.T) {
	h := NewMemoryHeap()
	h.CreateTable(types.Table{OID: 10, Name: "memos"})

	a, err := h.Insert(10, int64(1), "a")
	require.NoError(t, err)
	b, err := h.Insert(10, int64(2), "b")
	require.NoError(t, err)
	assert.Equal(t, types.Ctid{Block: 0, Offset: 1}, a)
	assert.Equal(t, types.Ctid{Block: 0, Offset: 2}, b)

	t.Run("update chains versions", func(t *testing.T) {
		a2, err := h.Update(10, a, int64(1), "a2")
		require.NoError(t, err)
		live, ok := h.Resolve(10, a)
		require.True(t, ok)
		assert.Equal(t, a2, live)

		_, ok = h.Fetch(10, a)
		assert.False(t, ok)
		row, ok := h.Fetch(10, a2)
		require.True(t, ok)
		assert.Equal(t, "a2", row.Values[1])
	})

	t.Run("deleted rows don't resolve", func(t *testing.T) {
		require.NoError(t, h.Delete(10, b))
		_, ok := h.Resolve(10, b)
		assert.False(t, ok)
		assert.Error(t, h.Delete(10, b))
	})

	t.Run("scan visits live rows", func(t *testing.T) {
		var seen []string
		err := h.Scan(context.Background(), 10, func(_ types.Ctid, row types.Row) error {
			seen = append(seen, row.Values[1].(string))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a2"}, seen)
	})

	t.Run("scan honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := h.Scan(ctx, 10, func(types.Ctid, types.Row) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := h.Insert(99, "x")
		assert.ErrorIs(t, err, types.ErrInvalidArgument)
		_, ok := h.Resolve(99, a)
		assert.False(t, ok)
	})
}

func TestMemoryCatalog(t *testing.T) {
	c := NewMemoryCatalog()
	c.AddIndex(&types.Index{OID: 1, RelFileNode: 100})
	assert.True(t, c.IsValidFileNode(100))
	index, ok := c.Index(1)
	require.True(t, ok)
	assert.Equal(t, uint32(100), index.RelFileNode)

	c.DropIndex(1)
	assert.False(t, c.IsValidFileNode(100))
	_, ok = c.Index(1)
	assert.False(t, ok)
}
