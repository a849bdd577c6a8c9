package httpgateway

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Call metadata frame layout, all integers big-endian:
//
//	uint16 version
//	uint16 service name length, followed by the service name
//	uint16 method name length, followed by the method name
//
// The frame addresses a call on the remote side; everything past the version
// word is opaque to the gateway's translation pipeline.
const metadataVersion uint16 = 1

// EncodeMetadata encodes the service and method names into a call-metadata
// frame suitable for Payload.Metadata. Names longer than the frame's 16-bit
// length fields can carry are rejected rather than truncated.
func EncodeMetadata(service, method string) ([]byte, error) {
	if len(service) > math.MaxUint16 {
		return nil, fmt.Errorf("service name too long for metadata frame: %d bytes", len(service))
	}
	if len(method) > math.MaxUint16 {
		return nil, fmt.Errorf("method name too long for metadata frame: %d bytes", len(method))
	}
	b := make([]byte, 0, 6+len(service)+len(method))
	b = binary.BigEndian.AppendUint16(b, metadataVersion)
	b = binary.BigEndian.AppendUint16(b, uint16(len(service)))
	b = append(b, service...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(method)))
	b = append(b, method...)
	return b, nil
}

// DecodeMetadata decodes a call-metadata frame produced by EncodeMetadata.
func DecodeMetadata(b []byte) (service, method string, err error) {
	if len(b) < 2 {
		return "", "", fmt.Errorf("metadata frame too short: %d bytes", len(b))
	}
	if v := binary.BigEndian.Uint16(b); v != metadataVersion {
		return "", "", fmt.Errorf("unsupported metadata version: %d", v)
	}
	b = b[2:]
	service, b, err = readLenPrefixed(b)
	if err != nil {
		return "", "", err
	}
	method, _, err = readLenPrefixed(b)
	if err != nil {
		return "", "", err
	}
	return service, method, nil
}

func readLenPrefixed(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("metadata frame truncated")
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, fmt.Errorf("metadata frame truncated")
	}
	return string(b[:n]), b[n:], nil
}
