package vectorize

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// LineSeparator joins flattened "path: value" lines into one blob.
const LineSeparator = " | "

// Clean recursively removes nil values, blank strings and empty collections.
// ok is false when nothing is left.
func Clean(v any) (out any, ok bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, false
		}
		return t, true
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			if c, ok := Clean(val); ok {
				m[k] = c
			}
		}
		if len(m) == 0 {
			return nil, false
		}
		return m, true
	case []any:
		s := make([]any, 0, len(t))
		for _, val := range t {
			if c, ok := Clean(val); ok {
				s = append(s, c)
			}
		}
		if len(s) == 0 {
			return nil, false
		}
		return s, true
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil, false
			}
			return Clean(rv.Elem().Interface())
		}
		return v, true
	}
}

// CleanRecord is Clean for the map shape records arrive in.
func CleanRecord(rec map[string]any) map[string]any {
	c, ok := Clean(rec)
	if !ok {
		return map[string]any{}
	}
	return c.(map[string]any)
}

// Flatten renders v as "path: value" lines with keys sorted. Nested keys are
// joined with "_" and list elements add their index as a segment.
func Flatten(v any) []string {
	var lines []string
	flattenInto(&lines, "", v)
	return lines
}

// Text is the embedding input for one record: Flatten(Clean(rec)) joined by
// LineSeparator.
func Text(rec map[string]any) string {
	return strings.Join(Flatten(CleanRecord(rec)), LineSeparator)
}

func flattenInto(lines *[]string, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(lines, join(prefix, k), t[k])
		}
	case []any:
		for i, item := range t {
			flattenInto(lines, join(prefix, strconv.Itoa(i)), item)
		}
	default:
		key := prefix
		if key == "" {
			key = "value"
		}
		*lines = append(*lines, key+": "+scalar(t))
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.Join(strings.Fields(t), " ")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
