// Package invocation resolves a (service, method, JSON body) triple into a
// one-shot Invocation bound to a broker channel, selecting the method
// descriptor by name and parameter arity and decoding the body into ordered
// binary parameters.
package invocation

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/brokerhq/httpgateway"
	"github.com/brokerhq/httpgateway/codec"
	"github.com/brokerhq/httpgateway/registry"

	"github.com/jhump/protoreflect/dynamic"
)

// Factory creates Invocations from the gateway's method registry and codec.
type Factory struct {
	registry *registry.Registry
	codec    *codec.Codec
}

// NewFactory returns a Factory backed by the given registry and codec.
func NewFactory(reg *registry.Registry, c *codec.Codec) *Factory {
	return &Factory{registry: reg, codec: c}
}

// Create resolves the method and decodes the body into an Invocation ready
// to execute on the given channel.
//
// Resolution matches the method name case-insensitively and requires the
// descriptor's declared parameter count to equal the number of parts the
// body splits into. As a special case, a method that takes no parameters is
// matched without consulting the body at all, so callers may POST an
// arbitrary (ignored) body to an empty-request method.
func (f *Factory) Create(ch httpgateway.Channel, service, method string, body []byte) (*Invocation, error) {
	matches, err := f.registry.Lookup(service, method)
	if err != nil {
		return nil, err
	}

	if len(matches) == 1 && matches[0].ParameterCount() == 0 {
		return f.bind(ch, matches[0], nil)
	}

	parts, err := codec.SplitBody(body)
	if err != nil {
		return nil, &httpgateway.ParameterDecodeError{Index: 0, Type: "json", Err: err}
	}
	for _, d := range matches {
		if d.ParameterCount() == len(parts) {
			return f.bind(ch, d, parts)
		}
	}
	return nil, &httpgateway.MethodResolutionError{Service: service, Method: method, Arity: len(parts)}
}

func (f *Factory) bind(ch httpgateway.Channel, d *registry.Descriptor, parts [][]byte) (*Invocation, error) {
	params := make([]*dynamic.Message, len(parts))
	for i, part := range parts {
		m, err := f.codec.Decode(d.Parameters[i], part)
		if err != nil {
			return nil, &httpgateway.ParameterDecodeError{
				Index: i,
				Type:  d.Parameters[i].GetFullyQualifiedName(),
				Err:   err,
			}
		}
		params[i] = m
	}
	return &Invocation{channel: ch, desc: d, params: params}, nil
}

// Invocation is a one-shot call bound to a channel, a method descriptor, and
// ordered parameter values. It is created per request and discarded after
// completion.
type Invocation struct {
	channel httpgateway.Channel
	desc    *registry.Descriptor
	params  []*dynamic.Message
}

// Descriptor returns the resolved method descriptor.
func (inv *Invocation) Descriptor() *registry.Descriptor { return inv.desc }

// FireAndForget reports whether the invocation expects no reply.
func (inv *Invocation) FireAndForget() bool { return inv.desc.FireAndForget }

// Invoke dispatches the call over the bound channel. For request-reply
// methods it returns the binary reply payload; for fire-and-forget methods
// it returns nil on successful send. Transport failures are wrapped in
// TransportError; context errors pass through unwrapped so callers can
// distinguish timeouts.
func (inv *Invocation) Invoke(ctx context.Context) ([]byte, error) {
	data, err := inv.encodeParameters()
	if err != nil {
		return nil, err
	}
	meta, err := httpgateway.EncodeMetadata(inv.desc.Service, inv.desc.Method)
	if err != nil {
		return nil, err
	}
	req := httpgateway.Payload{
		Data:     data,
		Metadata: meta,
	}

	if inv.FireAndForget() {
		log.Debugf("fire-and-forget %s/%s", inv.desc.Service, inv.desc.Method)
		if err := inv.channel.FireAndForget(ctx, req); err != nil {
			return nil, wrapTransport(ctx, err)
		}
		return nil, nil
	}

	resp, err := inv.channel.RequestReply(ctx, req)
	if err != nil {
		return nil, wrapTransport(ctx, err)
	}
	return resp.Data, nil
}

// encodeParameters serializes the ordered parameters into a single payload.
// A single parameter is sent raw; multiple parameters are each preceded by a
// 4-byte big-endian size preface so the remote side can split them.
func (inv *Invocation) encodeParameters() ([]byte, error) {
	switch len(inv.params) {
	case 0:
		return nil, nil
	case 1:
		return inv.params[0].Marshal()
	}
	var buf []byte
	for i, p := range inv.params {
		b, err := p.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshaling parameter %d: %w", i, err)
		}
		if len(b) > math.MaxInt32 {
			return nil, fmt.Errorf("parameter %d too large to send: %d bytes", i, len(b))
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}
	return buf, nil
}

func wrapTransport(ctx context.Context, err error) error {
	// let deadline/cancellation errors through so the dispatcher can map
	// them to 408 rather than 502
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &httpgateway.TransportError{Err: err}
}
