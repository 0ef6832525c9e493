package protocol

import (
	"encoding/json"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

// EncodeConfig turns a config value into the JSON text sent on the wire.
// A nil config, including a typed nil map or pointer, encodes as an empty
// object.
func EncodeConfig(cfg any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "encode extension config")
	}
	if string(b) == "null" {
		return "{}", nil
	}
	return string(b), nil
}

// DecodeConfig parses config JSON from the wire into the generic map form.
func DecodeConfig(s string) (map[string]any, error) {
	return pipes.ParseObjectJSON(s)
}

// EncodeMetadata turns metadata into JSON text; empty metadata is "".
func EncodeMetadata(md pipes.Metadata) (string, error) {
	if len(md) == 0 {
		return "", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", errors.Wrap(err, "encode metadata")
	}
	return string(b), nil
}

// KindsToStrings converts capabilities for the wire.
func KindsToStrings(kinds []pipes.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// ParseKinds converts wire capabilities back, rejecting unknown ones.
func ParseKinds(ss []string) ([]pipes.Kind, error) {
	out := make([]pipes.Kind, 0, len(ss))
	for _, s := range ss {
		k, err := pipes.ParseKind(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
