package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Message is one decoded JSON object. Numbers are kept as json.Number so
// values survive a decode/encode round trip unchanged.
type Message map[string]any

// Decode parses a single line. Surrounding whitespace, including a
// trailing carriage return, is ignored.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after top-level value", ErrMalformed)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is %s, not an object", ErrMalformed, kindOf(v))
	}
	return Message(obj), nil
}

// Encode serializes v as compact JSON followed by delim.
func Encode(v any, delim string) ([]byte, error) {
	if delim == "" {
		delim = "\n"
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	// Encoder always terminates with a newline of its own
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if strings.Contains(string(data), delim) {
		return nil, fmt.Errorf("%w: payload contains the delimiter %q", ErrEncode, delim)
	}

	return append(data, delim...), nil
}

// Number returns the value under key as a float64 if it is numeric.
func (m Message) Number(key string) (float64, bool) {
	switch v := m[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Numbers returns every top-level numeric field.
func (m Message) Numbers() map[string]float64 {
	out := make(map[string]float64)
	for k := range m {
		if f, ok := m.Number(k); ok {
			out[k] = f
		}
	}
	return out
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
