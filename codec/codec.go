// Package codec converts between JSON text and schema-typed binary protobuf
// messages, and splits request bodies into positional parameter parts.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang/protobuf/jsonpb"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
)

const emptyTypeName = "google.protobuf.Empty"

// Codec performs JSON⇄binary conversion for the schemas known to the
// gateway. A single Codec is shared by all requests; it holds no mutable
// state.
type Codec struct {
	marshaler   jsonpb.Marshaler
	unmarshaler jsonpb.Unmarshaler
}

// New returns a codec whose type registry spans the given file descriptors,
// so that Any fields and other well-known types render in their canonical
// JSON form. Output is minified; unknown JSON fields are ignored on input.
func New(files ...*desc.FileDescriptor) *Codec {
	resolver := dynamic.AnyResolver(nil, files...)
	return &Codec{
		marshaler: jsonpb.Marshaler{
			OrigName:    true,
			AnyResolver: resolver,
		},
		unmarshaler: jsonpb.Unmarshaler{
			AllowUnknownFields: true,
			AnyResolver:        resolver,
		},
	}
}

// Decode parses a JSON text fragment into a message of the given schema.
// JSON field names must match schema field names; unknown fields are
// accepted and ignored, missing fields take schema defaults.
func (c *Codec) Decode(md *desc.MessageDescriptor, jsonText []byte) (*dynamic.Message, error) {
	m := dynamic.NewMessage(md)
	if err := m.UnmarshalJSONPB(&c.unmarshaler, jsonText); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode parses a binary message of the given schema and renders it as
// minified JSON.
func (c *Codec) Encode(md *desc.MessageDescriptor, data []byte) ([]byte, error) {
	m := dynamic.NewMessage(md)
	if err := m.Unmarshal(data); err != nil {
		return nil, err
	}
	return m.MarshalJSONPB(&c.marshaler)
}

// IsEmpty reports whether the schema is the designated empty schema, used to
// classify empty-request and fire-and-forget methods.
func IsEmpty(md *desc.MessageDescriptor) bool {
	return md != nil && md.GetFullyQualifiedName() == emptyTypeName
}

// SplitBody splits a raw JSON body into positional parameter parts: an empty
// body yields zero parts, a JSON array yields one part per element, and any
// other JSON value is a single part. This lets one HTTP body represent a
// multi-parameter call positionally.
func SplitBody(body []byte) ([][]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '[' {
		return [][]byte{body}, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("malformed JSON array body: %w", err)
	}
	parts := make([][]byte, len(elems))
	for i, e := range elems {
		parts[i] = []byte(e)
	}
	return parts, nil
}
