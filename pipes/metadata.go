package pipes

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Well-known metadata fields.
const (
	FieldContent        = "X-TIKA:content"
	FieldParseException = "X-TIKA:EXCEPTION:runtime"
	FieldFetchException = "X-TIKA:EXCEPTION:fetch"
	FieldContentType    = "Content-Type"
	FieldResourceName   = "resourceName"
	FieldEmbeddedDepth  = "X-TIKA:embedded_depth"
	FieldContentLength  = "Content-Length"
)

// Metadata is a caller- or fetcher-supplied JSON object.
type Metadata map[string]any

// Record is one metadata record; every field holds a list of values.
type Record map[string][]any

// ParseMetadataJSON decodes caller metadata. See ParseObjectJSON.
func ParseMetadataJSON(s string) (Metadata, error) {
	obj, err := ParseObjectJSON(s)
	if err != nil {
		return nil, err
	}
	return Metadata(obj), nil
}

// String returns the value under key when it is a string.
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// ToRecord converts metadata into record form. See ToValues.
func (m Metadata) ToRecord() Record {
	r := make(Record, len(m))
	for k, v := range m {
		r[k] = ToValues(v)
	}
	return r
}

// ToValues converts one JSON-ish value into a record field:
//   - nil becomes an empty list
//   - strings, bools and numbers become a single-element list; integral
//     numbers are kept as int64
//   - arrays and slices are flattened recursively
//   - maps and anything else become their JSON text
func ToValues(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case string, bool:
		return []any{t}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return []any{i}
		}
		if f, err := t.Float64(); err == nil {
			return []any{f}
		}
		return []any{t.String()}
	case int:
		return []any{int64(t)}
	case int8:
		return []any{int64(t)}
	case int16:
		return []any{int64(t)}
	case int32:
		return []any{int64(t)}
	case int64:
		return []any{t}
	case uint:
		return uintValue(uint64(t))
	case uint8:
		return []any{int64(t)}
	case uint16:
		return []any{int64(t)}
	case uint32:
		return []any{int64(t)}
	case uint64:
		return uintValue(t)
	case float32:
		return []any{normalizeFloat(float64(t))}
	case float64:
		return []any{normalizeFloat(t)}
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, ToValues(e)...)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, ToValues(rv.Index(i).Interface())...)
		}
		return out
	}

	b, err := json.Marshal(v)
	if err != nil {
		return []any{fmt.Sprint(v)}
	}
	return []any{string(b)}
}

// uintValue keeps values above MaxInt64 as decimal text rather than wrapping.
func uintValue(u uint64) []any {
	if u > math.MaxInt64 {
		return []any{strconv.FormatUint(u, 10)}
	}
	return []any{int64(u)}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Merge copies other's fields into r. A key present in both takes other's
// values; keys only r has are left alone.
func (r Record) Merge(other Record) {
	for k, vs := range other {
		r[k] = append([]any(nil), vs...)
	}
}

// Add appends values to key.
func (r Record) Add(key string, values ...any) {
	r[key] = append(r[key], values...)
}

// Set replaces key with a single value.
func (r Record) Set(key string, value any) {
	r[key] = []any{value}
}

// First returns the first value of key rendered as a string.
func (r Record) First(key string) (string, bool) {
	vs := r[key]
	if len(vs) == 0 {
		return "", false
	}
	if s, ok := vs[0].(string); ok {
		return s, true
	}
	return fmt.Sprint(vs[0]), true
}

// Clone returns a copy whose value slices are not shared with r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, vs := range r {
		out[k] = append([]any(nil), vs...)
	}
	return out
}

// Keys returns the field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
