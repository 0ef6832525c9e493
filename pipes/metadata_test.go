package pipes

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
)

func TestToValues(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []any
	}{
		{"nil", nil, []any{}},
		{"string", "report.pdf", []any{"report.pdf"}},
		{"bool", true, []any{true}},
		{"json integer", json.Number("42"), []any{int64(42)}},
		{"json float", json.Number("2.5"), []any{2.5}},
		{"go int", 7, []any{int64(7)}},
		{"int8", int8(-8), []any{int64(-8)}},
		{"int16", int16(1600), []any{int64(1600)}},
		{"uint", uint(9), []any{int64(9)}},
		{"uint8", uint8(255), []any{int64(255)}},
		{"uint16", uint16(65535), []any{int64(65535)}},
		{"uint64", uint64(1 << 40), []any{int64(1 << 40)}},
		{"uint64 above int64", uint64(math.MaxUint64), []any{"18446744073709551615"}},
		{"typed uint slice", []uint16{1, 2}, []any{int64(1), int64(2)}},
		{"integral float64", float64(3), []any{int64(3)}},
		{"fractional float64", 0.25, []any{0.25}},
		{"flat array", []any{"a", json.Number("1")}, []any{"a", int64(1)}},
		{"nested array", []any{"a", []any{"b", []any{"c"}}}, []any{"a", "b", "c"}},
		{"string slice", []string{"x", "y"}, []any{"x", "y"}},
		{"typed slice", []int{1, 2}, []any{int64(1), int64(2)}},
		{"object", map[string]any{"k": "v"}, []any{`{"k":"v"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToValues(tt.in))
		})
	}
}

func TestParseMetadataJSON(t *testing.T) {
	m, err := ParseMetadataJSON(`{"source":"crawl","pages":12,"tags":["a","b"]}`)
	require.NoError(t, err)

	r := m.ToRecord()
	assert.Equal(t, []any{"crawl"}, r["source"])
	assert.Equal(t, []any{int64(12)}, r["pages"])
	assert.Equal(t, []any{"a", "b"}, r["tags"])

	empty, err := ParseMetadataJSON("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{`[1,2]`, `"x"`, `{"a":`, `{} {}`} {
		_, err := ParseMetadataJSON(bad)
		assert.True(t, errors.IsInvalidRequestError(err), bad)
	}
}

func TestRecordMergeOverridesSharedKeys(t *testing.T) {
	parsed := Record{
		FieldContent:     {"hello"},
		FieldContentType: {"text/plain"},
	}
	caller := Record{
		FieldContentType: {"application/x-caller"},
		"owner":          {"ops"},
	}

	parsed.Merge(caller)

	assert.Equal(t, []any{"application/x-caller"}, parsed[FieldContentType])
	assert.Equal(t, []any{"ops"}, parsed["owner"])
	assert.Equal(t, []any{"hello"}, parsed[FieldContent])

	parsed.Add("owner", "dev")
	assert.Equal(t, []any{"ops"}, caller["owner"], "merged values must not alias the argument")
}

func TestRecordHelpers(t *testing.T) {
	r := Record{}
	r.Set(FieldResourceName, "a.txt")
	r.Add("n", int64(1), int64(2))

	name, ok := r.First(FieldResourceName)
	require.True(t, ok)
	assert.Equal(t, "a.txt", name)

	n, ok := r.First("n")
	require.True(t, ok)
	assert.Equal(t, "1", n)

	_, ok = r.First("missing")
	assert.False(t, ok)

	clone := r.Clone()
	clone.Add("n", int64(3))
	assert.Len(t, r["n"], 2)
	assert.Equal(t, []string{"n", FieldResourceName}, r.Keys())
}
