// Package gatewaytesting provides fakes and descriptor helpers shared by the
// gateway's package tests. No live network calls are made; channels record
// what they were asked to send and reply from canned responses.
package gatewaytesting

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"

	"github.com/brokerhq/httpgateway"
)

// FakeChannel records sent payloads and replies from the configured Reply
// function. It is safe for concurrent use.
type FakeChannel struct {
	// Reply produces the reply for a request-reply call. Nil means an empty
	// reply.
	Reply func(req httpgateway.Payload) (httpgateway.Payload, error)
	// Err, when set, fails every call.
	Err error

	mu   sync.Mutex
	sent []httpgateway.Payload
}

var _ httpgateway.Channel = (*FakeChannel)(nil)

func (c *FakeChannel) RequestReply(ctx context.Context, req httpgateway.Payload) (httpgateway.Payload, error) {
	c.record(req)
	if c.Err != nil {
		return httpgateway.Payload{}, c.Err
	}
	if err := ctx.Err(); err != nil {
		return httpgateway.Payload{}, err
	}
	if c.Reply == nil {
		return httpgateway.Payload{}, nil
	}
	return c.Reply(req)
}

func (c *FakeChannel) FireAndForget(ctx context.Context, req httpgateway.Payload) error {
	c.record(req)
	return c.Err
}

func (c *FakeChannel) record(req httpgateway.Payload) {
	c.mu.Lock()
	c.sent = append(c.sent, req)
	c.mu.Unlock()
}

// Sent returns a copy of all payloads sent through the channel.
func (c *FakeChannel) Sent() []httpgateway.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]httpgateway.Payload(nil), c.sent...)
}

// BlockingChannel parks every request-reply call until Release is called or
// the context is done. It is used to hold requests in flight for admission
// and timeout tests.
type BlockingChannel struct {
	releaseOnce sync.Once
	release     chan struct{}
	waiting     int64

	// Reply is returned once released. Nil means an empty reply.
	Reply func(req httpgateway.Payload) (httpgateway.Payload, error)
}

var _ httpgateway.Channel = (*BlockingChannel)(nil)

// NewBlockingChannel returns a channel whose calls block until Release.
func NewBlockingChannel() *BlockingChannel {
	return &BlockingChannel{release: make(chan struct{})}
}

// Release unparks all blocked and future calls.
func (c *BlockingChannel) Release() {
	c.releaseOnce.Do(func() { close(c.release) })
}

// Waiting returns the number of calls currently parked.
func (c *BlockingChannel) Waiting() int {
	return int(atomic.LoadInt64(&c.waiting))
}

func (c *BlockingChannel) RequestReply(ctx context.Context, req httpgateway.Payload) (httpgateway.Payload, error) {
	atomic.AddInt64(&c.waiting, 1)
	defer atomic.AddInt64(&c.waiting, -1)
	select {
	case <-ctx.Done():
		return httpgateway.Payload{}, ctx.Err()
	case <-c.release:
	}
	if c.Reply == nil {
		return httpgateway.Payload{}, nil
	}
	return c.Reply(req)
}

func (c *BlockingChannel) FireAndForget(ctx context.Context, req httpgateway.Payload) error {
	return nil
}

// FakeProvider returns the same channel for every key and records the keys
// it resolved.
type FakeProvider struct {
	Channel httpgateway.Channel
	// Err, when set, fails every resolution.
	Err error

	mu   sync.Mutex
	keys []string
}

var _ httpgateway.ChannelProvider = (*FakeProvider)(nil)

func (p *FakeProvider) Group(group string, headers http.Header) (httpgateway.Channel, error) {
	p.recordKey(group)
	return p.Channel, p.Err
}

func (p *FakeProvider) Destination(destination, group string, headers http.Header) (httpgateway.Channel, error) {
	p.recordKey(group + destination)
	return p.Channel, p.Err
}

func (p *FakeProvider) recordKey(key string) {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.mu.Unlock()
}

// Keys returns the resolution keys seen so far.
func (p *FakeProvider) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// OrderFile builds a file descriptor declaring orders.OrderService with a
// request-reply PlaceOrder method, a fire-and-forget RecordEvent method, and
// a zero-parameter ListOrders method. Tests share it instead of shipping
// generated code.
func OrderFile() (*desc.FileDescriptor, error) {
	emptyMD, err := desc.LoadMessageDescriptorForMessage(&empty.Empty{})
	if err != nil {
		return nil, err
	}

	placeReq := builder.NewMessage("PlaceOrderRequest").
		AddField(builder.NewField("sku", builder.FieldTypeString())).
		AddField(builder.NewField("qty", builder.FieldTypeInt32()))
	placeResp := builder.NewMessage("PlaceOrderResponse").
		AddField(builder.NewField("order_id", builder.FieldTypeString())).
		AddField(builder.NewField("total", builder.FieldTypeInt64()))
	event := builder.NewMessage("OrderEvent").
		AddField(builder.NewField("name", builder.FieldTypeString()))
	listResp := builder.NewMessage("OrderList").
		AddField(builder.NewField("order_ids", builder.FieldTypeString()).SetRepeated())

	svc := builder.NewService("OrderService").
		AddMethod(builder.NewMethod("PlaceOrder",
			builder.RpcTypeMessage(placeReq, false),
			builder.RpcTypeMessage(placeResp, false))).
		AddMethod(builder.NewMethod("RecordEvent",
			builder.RpcTypeMessage(event, false),
			builder.RpcTypeImportedMessage(emptyMD, false))).
		AddMethod(builder.NewMethod("ListOrders",
			builder.RpcTypeImportedMessage(emptyMD, false),
			builder.RpcTypeMessage(listResp, false)))

	return builder.NewFile("orders.proto").
		SetProto3(true).
		SetPackageName("orders").
		AddMessage(placeReq).
		AddMessage(placeResp).
		AddMessage(event).
		AddMessage(listResp).
		AddService(svc).
		Build()
}
