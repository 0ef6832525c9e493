// Package protocol defines the docpipe.Extension gRPC service spoken between
// the docpipe server and out-of-process extensions.
//
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content subtype; clients select it with CallContentSubtype.
// Extension configs cross the wire as JSON text only, never as typed
// messages, so each side decodes them into its own types.
package protocol

import (
	"bytes"
	"encoding/json"

	"google.golang.org/grpc/encoding"

	"github.com/teranos/docpipe/errors"
)

// CodecName is the gRPC content subtype of the JSON codec.
const CodecName = "json"

// Codec marshals messages as JSON. Numbers decode into json.Number when the
// target is untyped so integers are not widened to float64.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %T", v)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(err, "unmarshal %T", v)
	}
	return nil
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
