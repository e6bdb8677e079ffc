package frame

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
		key     string
		want    string
	}{
		{"object", `{"temp":21}`, nil, "temp", "21"},
		{"trailing carriage return", "{\"temp\":21}\r", nil, "temp", "21"},
		{"surrounding whitespace", "  {\"s\":\"x\"}  ", nil, "s", "x"},
		{"float kept exact", `{"v":0.1000000000000000055511151231257827}`, nil, "v", "0.1000000000000000055511151231257827"},
		{"empty", "", ErrEmptyLine, "", ""},
		{"whitespace only", " \r", ErrEmptyLine, "", ""},
		{"garbage", "not json", ErrMalformed, "", ""},
		{"truncated", `{"temp":`, ErrMalformed, "", ""},
		{"array", `[1,2]`, ErrMalformed, "", ""},
		{"number", `42`, ErrMalformed, "", ""},
		{"null", `null`, ErrMalformed, "", ""},
		{"trailing data", `{"a":1} {"b":2}`, ErrMalformed, "", ""},
		{"stray brace", `{"a":1}}`, ErrMalformed, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.line))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode(%q) error = %v, want %v", tt.line, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) unexpected error: %v", tt.line, err)
			}

			got := msg[tt.key]
			switch v := got.(type) {
			case json.Number:
				if v.String() != tt.want {
					t.Errorf("%s = %s, want %s", tt.key, v, tt.want)
				}
			case string:
				if v != tt.want {
					t.Errorf("%s = %q, want %q", tt.key, v, tt.want)
				}
			default:
				t.Errorf("%s has unexpected type %T", tt.key, got)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(map[string]any{"led": "on", "level": 3}, "\n")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != "{\"led\":\"on\",\"level\":3}\n" {
		t.Errorf("Encode = %q", data)
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		v     any
		delim string
	}{
		{"channel", map[string]any{"c": make(chan int)}, "\n"},
		{"func", func() {}, "\n"},
		{"NaN", map[string]any{"v": math.NaN()}, "\n"},
		{"delimiter inside payload", map[string]any{"s": "a;b"}, ";"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.v, tt.delim); !errors.Is(err, ErrEncode) {
				t.Errorf("Encode error = %v, want ErrEncode", err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	lines := []string{
		`{"light_level_average":512,"light_level_current":498,"temperature":301}`,
		`{"a":[1,2.5,"x"],"b":{"c":null,"d":true}}`,
		`{"html":"<b>&</b>","n":-1e-7}`,
		`{}`,
	}

	for _, line := range lines {
		msg, err := Decode([]byte(line))
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", line, err)
		}
		out, err := Encode(msg, "\n")
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if string(out) != line+"\n" {
			t.Errorf("round trip = %q, want %q", out, line+"\n")
		}
	}
}

func TestMessageNumbers(t *testing.T) {
	msg, err := Decode([]byte(`{"t":21.5,"s":"x","n":3}`))
	if err != nil {
		t.Fatal(err)
	}

	nums := msg.Numbers()
	if len(nums) != 2 || nums["t"] != 21.5 || nums["n"] != 3 {
		t.Errorf("Numbers() = %v", nums)
	}
	if _, ok := msg.Number("s"); ok {
		t.Error("Number(s) reported a string as numeric")
	}
}
