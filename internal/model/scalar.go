package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a resource identifier. The upstream sends ids as strings or
// numbers; both decode to their textual form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*id = ID(n.String())
		return nil
	default:
		return fmt.Errorf("model: id must be a string or number, got %s", truncate(b))
	}
}

func (id ID) String() string { return string(id) }

// Text is a string field that tolerates non-string values by decoding them
// as empty.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = ""
		return nil
	}
	*t = Text(s)
	return nil
}

func (t Text) String() string { return string(t) }

// Flag is a boolean the upstream may send as true/false, 0/1 or "0"/"1".
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case bool:
		*f = Flag(x)
	case float64:
		*f = x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "y":
			*f = true
		default:
			*f = false
		}
	default:
		*f = false
	}
	return nil
}

// Bool returns a fresh *bool, or nil when f is nil.
func (f *Flag) Bool() *bool {
	if f == nil {
		return nil
	}
	v := bool(*f)
	return &v
}

// Int decodes a number or numeric string; anything else yields zero.
type Int int

func (n *Int) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*n = Int(int(x))
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			*n = 0
			return nil
		}
		*n = Int(i)
	default:
		*n = 0
	}
	return nil
}

func truncate(b []byte) string {
	const max = 32
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
