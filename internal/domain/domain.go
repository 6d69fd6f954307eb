// Package domain converts between host column values and the values stored
// in engine data columns.
//
// Scalars map onto SQLite storage classes: booleans and integers are
// INTEGER, floats are REAL, timestamps are INTEGER microseconds since the
// Unix epoch, text and jsonb are TEXT. Array columns are stored as JSON
// arrays of their encoded elements.
package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cast"

	"github.com/dshills/pgrnscan/pkg/types"
)

// SQLType returns the column type used for a data column of domain t.
func SQLType(t types.TypeID) string {
	if t.IsArray() {
		return "TEXT"
	}
	switch t {
	case types.TypeBool, types.TypeInt2, types.TypeInt4, types.TypeInt8,
		types.TypeTimestamp, types.TypeTimestampTZ:
		return "INTEGER"
	case types.TypeFloat4, types.TypeFloat8:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Encode casts a host value into the stored form of domain t.
func Encode(t types.TypeID, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t.IsArray() {
		return encodeVector(t.Element(), v)
	}

	switch t {
	case types.TypeBool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, err
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case types.TypeInt2:
		n, err := cast.ToInt16E(v)
		return int64(n), err
	case types.TypeInt4:
		n, err := cast.ToInt32E(v)
		return int64(n), err
	case types.TypeInt8:
		return cast.ToInt64E(v)
	case types.TypeFloat4:
		f, err := cast.ToFloat32E(v)
		return float64(f), err
	case types.TypeFloat8:
		return cast.ToFloat64E(v)
	case types.TypeText, types.TypeVarchar:
		return cast.ToStringE(v)
	case types.TypeTimestamp, types.TypeTimestampTZ:
		return encodeTime(t, v)
	case types.TypeJSONB:
		return encodeJSON(v)
	default:
		return nil, fmt.Errorf("unsupported domain %s: %w", t, types.ErrInvalidArgument)
	}
}

func encodeTime(t types.TypeID, v any) (any, error) {
	var tm time.Time
	switch v := v.(type) {
	case time.Time:
		tm = v
	case int, int32, int64, uint32:
		return cast.ToInt64E(v)
	default:
		parsed, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		tm = parsed
	}
	if t == types.TypeTimestamp {
		// Without a zone the wall clock is what gets stored.
		tm = time.Date(tm.Year(), tm.Month(), tm.Day(), tm.Hour(), tm.Minute(), tm.Second(), tm.Nanosecond(), time.UTC)
	}
	return tm.UnixMicro(), nil
}

func encodeJSON(v any) (any, error) {
	switch v := v.(type) {
	case string:
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("invalid jsonb value: %w", types.ErrInvalidArgument)
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid jsonb value: %w", types.ErrInvalidArgument)
		}
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
}

// Elements returns the elements of a host array value.
func Elements(v any) ([]any, error) {
	switch v := v.(type) {
	case types.Array:
		return v.Elements, nil
	case *types.Array:
		return v.Elements, nil
	case []any:
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("unable to cast %#v of type %T to an array", v, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func encodeVector(element types.TypeID, v any) (any, error) {
	elements, err := Elements(v)
	if err != nil {
		return nil, err
	}
	encoded := make([]any, 0, len(elements))
	for i, e := range elements {
		// Vectors can't hold NULL.
		if e == nil {
			continue
		}
		ev, err := Encode(element, e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		encoded = append(encoded, ev)
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Decode converts a stored value back into the host representation of t.
// Text arrays become []string, numeric arrays []int64 or []float64.
func Decode(t types.TypeID, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if t.IsArray() {
		return decodeVector(t.Element(), raw)
	}

	switch t {
	case types.TypeBool:
		n, err := cast.ToInt64E(raw)
		return n != 0, err
	case types.TypeInt2:
		return cast.ToInt16E(raw)
	case types.TypeInt4:
		return cast.ToInt32E(raw)
	case types.TypeInt8:
		return cast.ToInt64E(raw)
	case types.TypeFloat4:
		return cast.ToFloat32E(raw)
	case types.TypeFloat8:
		return cast.ToFloat64E(raw)
	case types.TypeText, types.TypeVarchar, types.TypeJSONB:
		return cast.ToStringE(raw)
	case types.TypeTimestamp, types.TypeTimestampTZ:
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, err
		}
		return time.UnixMicro(n).UTC(), nil
	default:
		return nil, fmt.Errorf("unsupported domain %s: %w", t, types.ErrInvalidArgument)
	}
}

func decodeVector(element types.TypeID, raw any) (any, error) {
	text, err := cast.ToStringE(raw)
	if err != nil {
		return nil, err
	}
	switch {
	case element.IsText():
		var out []string
		err = json.Unmarshal([]byte(text), &out)
		return out, err
	case element == types.TypeFloat4 || element == types.TypeFloat8:
		var out []float64
		err = json.Unmarshal([]byte(text), &out)
		return out, err
	default:
		var out []int64
		err = json.Unmarshal([]byte(text), &out)
		return out, err
	}
}

// Size returns the number of bytes v contributes to a record.
func Size(v any) int {
	switch v := v.(type) {
	case nil:
		return 0
	case string:
		return len(v)
	case []byte:
		return len(v)
	case bool:
		return 1
	default:
		return 8
	}
}
