// internal/engine/value/convert.go
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime reads ISO-8601 timestamps and plain dates.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Decode parses a JSON document into a Value, keeping numbers exact.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Null(), fmt.Errorf("decode json: %w", err)
	}
	return FromAny(raw), nil
}

// FromAny converts decoded JSON or plain Go values into a Value.
func FromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case string:
		return String(v)
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return String(v.String())
		}
		return Number(d)
	case decimal.Decimal:
		return Number(v)
	case float64:
		return Number(decimal.NewFromFloat(v))
	case float32:
		return Number(decimal.NewFromFloat32(v))
	case int:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint:
		return Number(decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(v)), 0))
	case uint64:
		return Number(decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0))
	case bool:
		return Bool(v)
	case time.Time:
		return Date(v)
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = FromAny(item)
		}
		return Array(items)
	case []string:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = String(item)
		}
		return Array(items)
	case []Value:
		return Array(v)
	case map[string]any:
		fields := make(map[string]Value, len(v))
		for k, item := range v {
			fields[k] = FromAny(item)
		}
		return Object(fields)
	case map[string]string:
		fields := make(map[string]Value, len(v))
		for k, item := range v {
			fields[k] = String(item)
		}
		return Object(fields)
	case map[string]Value:
		return Object(v)
	default:
		return String(fmt.Sprintf("%v", v))
	}
}
