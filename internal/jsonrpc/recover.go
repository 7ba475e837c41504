package jsonrpc

import (
	"github.com/buger/jsonparser"
)

// RecoverRequestID makes a best-effort attempt to pull the "id" member out of
// a payload that failed to decode. It scans without building a full document,
// so truncated or partially invalid input still yields an id when the member
// appears before the damage.
func RecoverRequestID(data []byte) (*RequestID, bool) {
	value, typ, _, err := jsonparser.Get(data, "id")
	if err != nil {
		return nil, false
	}
	switch typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, false
		}
		return NewRequestID(s), true
	case jsonparser.Number:
		if i, err := jsonparser.ParseInt(value); err == nil {
			return NewRequestID(i), true
		}
		f, err := jsonparser.ParseFloat(value)
		if err != nil {
			return nil, false
		}
		return NewRequestID(f), true
	default:
		return nil, false
	}
}
