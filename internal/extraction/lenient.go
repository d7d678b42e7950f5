package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Str accepts a JSON string, number or bool. Blank and "null"-like strings
// decode as absent.
type Str string

func (s *Str) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Str(strings.Join(strings.Fields(v), " "))
		return nil
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("expected scalar, got %s", truncate(string(b), 40))
	default:
		*s = Str(string(b))
		return nil
	}
}

func (s *Str) Ptr() *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(string(*s))
	switch strings.ToLower(v) {
	case "", "null", "none", "n/a", "na", "-":
		return nil
	}
	return &v
}

// Flag accepts true/false, "yes"/"no", "valid"/"invalid" and 0/1.
type Flag struct {
	v  bool
	ok bool
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	var raw Str
	if err := raw.UnmarshalJSON(b); err != nil {
		return err
	}
	p := raw.Ptr()
	if p == nil {
		return nil
	}
	switch strings.ToLower(*p) {
	case "true", "yes", "y", "1", "valid":
		f.v, f.ok = true, true
	case "false", "no", "n", "0", "invalid":
		f.v, f.ok = false, true
	}
	return nil
}

func (f *Flag) Ptr() *bool {
	if f == nil || !f.ok {
		return nil
	}
	v := f.v
	return &v
}

// ParseNumeric reads the leading number of a lab value, ignoring comparison
// prefixes and trailing units.
func ParseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "<>=≤≥~ ")
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		if c == ',' && end > 0 && isThousands(s[end+1:]) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s[:end], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isThousands(rest string) bool {
	if len(rest) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return false
		}
	}
	return len(rest) == 3 || rest[3] < '0' || rest[3] > '9'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
