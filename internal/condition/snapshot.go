package condition

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time view of market and wallet data. Nested maps are
// addressed with dot paths ("tokens.ETH.price"); a flat key containing dots
// takes precedence over the nested lookup.
type Snapshot map[string]any

// Lookup resolves a dot path.
func (s Snapshot) Lookup(path string) (any, bool) {
	if s == nil || path == "" {
		return nil, false
	}
	if v, ok := s[path]; ok {
		return v, v != nil
	}
	var cur any = map[string]any(s)
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = next
		case Snapshot:
			next, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// With returns a shallow copy of s with fields set as flat keys. The receiver
// is left untouched.
func (s Snapshot) With(fields map[string]any) Snapshot {
	out := make(Snapshot, len(s)+len(fields))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Number resolves path and converts the result to float64.
func (s Snapshot) Number(path string) (float64, bool) {
	v, ok := s.Lookup(path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case decimal.Decimal:
		f = x.InexactFloat64()
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
