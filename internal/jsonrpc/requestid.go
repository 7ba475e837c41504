package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
// Integral numbers are normalized to int64 so that ids survive a round trip
// through the codec unchanged.
type RequestID struct {
	value interface{}
}

// NewRequestID creates a new RequestID from a string or number. Unsupported
// types yield a nil-valued id.
func NewRequestID(value interface{}) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: int64(v)}
	case int8:
		return &RequestID{value: int64(v)}
	case int16:
		return &RequestID{value: int64(v)}
	case int32:
		return &RequestID{value: int64(v)}
	case int64:
		return &RequestID{value: v}
	case uint:
		return &RequestID{value: int64(v)}
	case uint8:
		return &RequestID{value: int64(v)}
	case uint16:
		return &RequestID{value: int64(v)}
	case uint32:
		return &RequestID{value: int64(v)}
	case uint64:
		if v > math.MaxInt64 {
			return &RequestID{value: float64(v)}
		}
		return &RequestID{value: int64(v)}
	case float32:
		return newFloatID(float64(v))
	case float64:
		return newFloatID(v)
	default:
		return &RequestID{value: nil}
	}
}

// newFloatID keeps integral values in int64 range as int64. The upper bound
// is exclusive: float64(math.MaxInt64) rounds up to 2^63, which int64 cannot
// hold.
func newFloatID(f float64) *RequestID {
	if f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63 {
		return &RequestID{value: int64(f)}
	}
	return &RequestID{value: f}
}

// String returns the string representation of the ID. It doubles as the key
// used for in-flight request bookkeeping.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}

	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		panic("unreachable: RequestID contains unsupported type")
	}
}

// Value returns the underlying value: a string, an int64 or a float64.
func (id *RequestID) Value() interface{} {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil returns true if the ID is nil/empty
func (id *RequestID) IsNil() bool {
	if id == nil {
		return true
	}

	return id.value == nil
}

// Equal reports whether both ids carry the same type and value.
func (id *RequestID) Equal(other *RequestID) bool {
	if id.IsNil() || other.IsNil() {
		return id.IsNil() && other.IsNil()
	}
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler. A nil id encodes as null.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return fmt.Errorf("JSON-RPC ID: %w", err)
		}
		id.value = str
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
	}
	if i, err := num.Int64(); err == nil {
		id.value = i
		return nil
	}
	f, err := num.Float64()
	if err != nil {
		return fmt.Errorf("JSON-RPC ID out of range: %s", string(data))
	}
	*id = *newFloatID(f)
	return nil
}
