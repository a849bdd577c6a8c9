// Package httpgateway contains the transport abstractions shared by the
// HTTP-to-RPC gateway: payloads, broker channels, channel providers, the
// call-metadata framing, and the error taxonomy surfaced at the HTTP boundary.
package httpgateway

import (
	"context"
	"net/http"
)

// Payload is a single binary frame exchanged with the broker. Data carries
// the serialized message contents and Metadata carries the transport-level
// call metadata (see EncodeMetadata). Both are opaque to the broker's routing
// layer.
type Payload struct {
	Data     []byte
	Metadata []byte
}

// Channel is an abstraction of a long-lived bidirectional connection to the
// broker, used to send calls and receive replies for a given group or
// destination. Implementations must be safe for concurrent multiplexed use;
// the gateway never serializes requests that share a channel.
type Channel interface {
	// RequestReply sends the given payload and waits for exactly one reply,
	// or an error. The wait is bounded by ctx; cancelling ctx abandons the
	// wait but does not retract a request already sent to the remote side.
	RequestReply(ctx context.Context, req Payload) (Payload, error)

	// FireAndForget sends the given payload and signals completion on
	// successful send. No reply is expected.
	FireAndForget(ctx context.Context, req Payload) error
}

// ChannelProvider supplies channels for logical groups and for specific
// destinations. Both methods are idempotent per key: the first call for a
// key may block while a connection is negotiated, and subsequent calls
// return the cached channel without blocking. Request headers may carry
// routing hints that a provider is free to consult or ignore.
type ChannelProvider interface {
	Group(group string, headers http.Header) (Channel, error)
	Destination(destination, group string, headers http.Header) (Channel, error)
}
