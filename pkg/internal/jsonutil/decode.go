// Package jsonutil recovers complete JSON values from a rolling byte buffer
// fed by a streaming response.
package jsonutil

import (
	"bytes"
	"encoding/json"
)

// DecodeAll greedily consumes as many complete JSON values as are available
// at the front of buf and returns them together with the unconsumed
// remainder. Consumption is monotone: the remainder is always a suffix of
// the input. Leading whitespace before a value is consumed with it.
func DecodeAll(buf []byte) ([]json.RawMessage, []byte) {
	var values []json.RawMessage
	rest := buf
	for {
		trimmed := bytes.TrimLeft(rest, " \t\r\n")
		if len(trimmed) == 0 {
			return values, trimmed
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// Incomplete or invalid prefix; leave it for the next chunk.
			return values, rest
		}
		values = append(values, raw)
		rest = trimmed[dec.InputOffset():]
	}
}
