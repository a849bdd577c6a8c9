package broker

import (
	"encoding/binary"
	"fmt"

	"github.com/brokerhq/httpgateway"
)

// rawCodec moves pre-serialized frames through gRPC untouched. Both Marshal
// and Unmarshal operate on *[]byte.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec requires *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec requires *[]byte, got %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string { return "raw" }

// encodeFrame packs a payload's metadata and data into one wire frame: a
// 4-byte big-endian metadata size preface, the metadata, then the data.
func encodeFrame(p httpgateway.Payload) []byte {
	b := make([]byte, 0, 4+len(p.Metadata)+len(p.Data))
	b = binary.BigEndian.AppendUint32(b, uint32(len(p.Metadata)))
	b = append(b, p.Metadata...)
	b = append(b, p.Data...)
	return b
}

// decodeFrame is the inverse of encodeFrame. It is used by tests and by
// broker-side tooling reading gateway frames.
func decodeFrame(b []byte) (httpgateway.Payload, error) {
	if len(b) < 4 {
		return httpgateway.Payload{}, fmt.Errorf("frame too short: %d bytes", len(b))
	}
	n := int(binary.BigEndian.Uint32(b))
	b = b[4:]
	if len(b) < n {
		return httpgateway.Payload{}, fmt.Errorf("frame truncated: metadata size %d exceeds remaining %d", n, len(b))
	}
	return httpgateway.Payload{Metadata: b[:n], Data: b[n:]}, nil
}
