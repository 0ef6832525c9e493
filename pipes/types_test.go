package pipes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"fetcher":        KindFetcher,
		"Emitters":       KindEmitter,
		"iterator":       KindIterator,
		"pipe-iterators": KindIterator,
		"pipe_iterator":  KindIterator,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("parser")
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Equal(t, "iterators", KindIterator.Bucket())
}

func TestExtensionConfigValidate(t *testing.T) {
	ok := ExtensionConfig{Kind: KindFetcher, ID: "f1", PluginID: "file-system"}
	assert.NoError(t, ok.Validate())

	for name, c := range map[string]ExtensionConfig{
		"kind":   {Kind: "parser", ID: "x", PluginID: "p"},
		"id":     {Kind: KindEmitter, ID: " ", PluginID: "p"},
		"plugin": {Kind: KindIterator, ID: "i"},
	} {
		assert.True(t, errors.IsInvalidRequestError(c.Validate()), name)
	}
}

func TestConfigJSON(t *testing.T) {
	c := ExtensionConfig{Kind: KindFetcher, ID: "f1", PluginID: "fs"}
	s, err := c.ConfigJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", s)

	c.Config = map[string]any{"basePath": "/data"}
	s, err = c.ConfigJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"basePath":"/data"}`, s)
}

func TestResultProjection(t *testing.T) {
	res := FetchAndParseResult{
		FetchKey: "a.txt",
		Status:   StatusParseException,
		Records:  []Record{{FieldParseException: {"boom"}}},
	}
	assert.True(t, res.Emittable())
	out := res.EmitOutput()
	assert.Equal(t, "a.txt", out.FetchKey)
	assert.Equal(t, res.Records, out.Records)

	res.Status = StatusFetchException
	assert.False(t, res.Emittable())
}
