package message

import (
	"encoding/json"
	"math"
	"time"
)

// Message is an immutable fact appended to a stream.
//
// ID and Type are supplied by the caller. StreamName, Position,
// GlobalPosition and Time are assigned when the message is written.
type Message struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	StreamName     string    `json:"stream_name"`
	Position       int64     `json:"position"`
	GlobalPosition int64     `json:"global_position"`
	Time           time.Time `json:"time"`
	Data           Payload   `json:"data,omitempty"`
	Metadata       Payload   `json:"metadata,omitempty"`
}

// Payload is opaque structured data carried by a message.
type Payload map[string]any

// Int64 reads an integer field regardless of how it was decoded.
func (p Payload) Int64(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// String reads a text field.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}
