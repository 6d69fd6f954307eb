package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pgrnscan/pkg/types"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		domain types.TypeID
		in     any
		want   any
	}{
		{"bool", types.TypeBool, true, int64(1)},
		{"int4 from string", types.TypeInt4, "42", int64(42)},
		{"float8", types.TypeFloat8, float32(1.5), 1.5},
		{"text from int", types.TypeText, 12, "12"},
		{"text array", types.TypeTextArray, []string{"a", "b"}, `["a","b"]`},
		{"int array skips null", types.TypeInt8Array, types.NewArray(int64(1), nil, "3"), `[1,3]`},
		{"jsonb map", types.TypeJSONB, map[string]any{"k": 1}, `{"k":1}`},
		{"nil", types.TypeText, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.domain, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(types.TypeInt4, "not a number")
	assert.Error(t, err)

	_, err = Encode(types.TypeJSONB, "{broken")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = Encode(types.TypeInt4Array, 5)
	assert.Error(t, err)
}

func TestTimestamps(t *testing.T) {
	loc := time.FixedZone("JST", 9*60*60)
	tm := time.Date(2024, 1, 2, 3, 4, 5, 0, loc)

	tz, err := Encode(types.TypeTimestampTZ, tm)
	require.NoError(t, err)
	assert.Equal(t, tm.UnixMicro(), tz)

	wall, err := Encode(types.TypeTimestamp, tm)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMicro(), wall)

	back, err := Decode(types.TypeTimestamp, wall)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), back)
}

func TestDecodeVectors(t *testing.T) {
	v, err := Decode(types.TypeTextArray, `["x","y"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, v)

	v, err = Decode(types.TypeInt4Array, []byte(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, v)

	v, err = Decode(types.TypeFloat8Array, `[0.5]`)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, v)
}

func TestSQLTypeAndSize(t *testing.T) {
	assert.Equal(t, "INTEGER", SQLType(types.TypeTimestampTZ))
	assert.Equal(t, "REAL", SQLType(types.TypeFloat4))
	assert.Equal(t, "TEXT", SQLType(types.TypeInt4Array))
	assert.Equal(t, 3, Size("abc"))
	assert.Equal(t, 8, Size(int64(1)))
	assert.Equal(t, 0, Size(nil))
}
