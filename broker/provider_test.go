package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/brokerhq/httpgateway"
)

// fakeConn records invocations and answers with a canned reply.
type fakeConn struct {
	mu      sync.Mutex
	methods []string
	frames  [][]byte
	md      []metadata.MD
	reply   []byte
}

func (c *fakeConn) Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods = append(c.methods, method)
	c.frames = append(c.frames, *(args.(*[]byte)))
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		c.md = append(c.md, md)
	} else {
		c.md = append(c.md, nil)
	}
	*(reply.(*[]byte)) = c.reply
	return nil
}

func mustMetadata(t *testing.T, service, method string) []byte {
	t.Helper()
	b, err := httpgateway.EncodeMetadata(service, method)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestProvider(cc *fakeConn, dials *int64) *Provider {
	p := NewProvider("broker:8001", 12345, "s3cret")
	p.dial = func(target string, opts ...grpc.DialOption) (conn, error) {
		atomic.AddInt64(dials, 1)
		return cc, nil
	}
	return p
}

func TestGroupChannelCached(t *testing.T) {
	var dials int64
	p := newTestProvider(&fakeConn{}, &dials)

	ch1, err := p.Group("groupA", nil)
	if err != nil {
		t.Fatalf("first resolution failed: %v", err)
	}
	ch2, err := p.Group("groupA", nil)
	if err != nil {
		t.Fatalf("second resolution failed: %v", err)
	}
	if ch1 != ch2 {
		t.Error("same group resolved to different channels")
	}
	if dials != 1 {
		t.Errorf("dialed %d times; want 1", dials)
	}

	if _, err := p.Group("groupB", nil); err != nil {
		t.Fatalf("other group failed: %v", err)
	}
	if dials != 2 {
		t.Errorf("dialed %d times after second group; want 2", dials)
	}
}

func TestDestinationChannelCached(t *testing.T) {
	var dials int64
	p := newTestProvider(&fakeConn{}, &dials)

	ch1, err := p.Destination("dest1", "groupA", nil)
	if err != nil {
		t.Fatal(err)
	}
	ch2, err := p.Destination("dest1", "groupA", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ch1 != ch2 {
		t.Error("same destination resolved to different channels")
	}
	grp, err := p.Group("groupA", nil)
	if err != nil {
		t.Fatal(err)
	}
	if grp == ch1 {
		t.Error("group and destination keys must not share a cache entry")
	}
	if dials != 2 {
		t.Errorf("dialed %d times; want 2", dials)
	}
}

func TestConcurrentResolutionCollapses(t *testing.T) {
	var dials int64
	p := newTestProvider(&fakeConn{}, &dials)

	const n = 32
	channels := make([]httpgateway.Channel, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := p.Group("groupA", nil)
			if err != nil {
				t.Error(err)
				return
			}
			channels[i] = ch
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if channels[i] != channels[0] {
			t.Fatal("concurrent resolutions produced distinct channels")
		}
	}
	if dials != 1 {
		t.Errorf("dialed %d times under race; want 1", dials)
	}
}

func TestRequestReplyFrame(t *testing.T) {
	cc := &fakeConn{reply: []byte("pong")}
	var dials int64
	p := newTestProvider(cc, &dials)

	ch, err := p.Group("groupA", nil)
	if err != nil {
		t.Fatal(err)
	}
	req := httpgateway.Payload{
		Data:     []byte("ping"),
		Metadata: mustMetadata(t, "orders.OrderService", "PlaceOrder"),
	}
	resp, err := ch.RequestReply(context.Background(), req)
	if err != nil {
		t.Fatalf("request-reply failed: %v", err)
	}
	if string(resp.Data) != "pong" {
		t.Errorf("reply data = %q; want pong", resp.Data)
	}

	if cc.methods[0] != requestReplyMethod {
		t.Errorf("invoked %q; want %q", cc.methods[0], requestReplyMethod)
	}
	got, err := decodeFrame(cc.frames[0])
	if err != nil {
		t.Fatalf("decoding sent frame: %v", err)
	}
	if string(got.Data) != "ping" {
		t.Errorf("frame data = %q; want ping", got.Data)
	}
	service, method, err := httpgateway.DecodeMetadata(got.Metadata)
	if err != nil {
		t.Fatalf("decoding frame metadata: %v", err)
	}
	if service != "orders.OrderService" || method != "PlaceOrder" {
		t.Errorf("frame addresses %s/%s", service, method)
	}

	md := cc.md[0]
	if md.Get("broker-group")[0] != "groupA" {
		t.Errorf("broker-group metadata = %v", md.Get("broker-group"))
	}
	if md.Get("access-key")[0] != "12345" {
		t.Errorf("access-key metadata = %v", md.Get("access-key"))
	}
	if md.Get("access-token")[0] != "s3cret" {
		t.Errorf("access-token metadata = %v", md.Get("access-token"))
	}
}

func TestFireAndForget(t *testing.T) {
	cc := &fakeConn{}
	var dials int64
	p := newTestProvider(cc, &dials)

	ch, err := p.Destination("dest1", "groupA", nil)
	if err != nil {
		t.Fatal(err)
	}
	err = ch.FireAndForget(context.Background(), httpgateway.Payload{
		Data:     []byte("evt"),
		Metadata: mustMetadata(t, "orders.OrderService", "RecordEvent"),
	})
	if err != nil {
		t.Fatalf("fire-and-forget failed: %v", err)
	}
	if cc.methods[0] != fireAndForgetMethod {
		t.Errorf("invoked %q; want %q", cc.methods[0], fireAndForgetMethod)
	}
	if cc.md[0].Get("broker-destination")[0] != "dest1" {
		t.Errorf("broker-destination metadata = %v", cc.md[0].Get("broker-destination"))
	}
}

func TestFrameRoundTrip(t *testing.T) {
	in := httpgateway.Payload{Data: []byte("data"), Metadata: []byte("meta")}
	out, err := decodeFrame(encodeFrame(in))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if string(out.Data) != "data" || string(out.Metadata) != "meta" {
		t.Errorf("round trip yielded %q/%q", out.Metadata, out.Data)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	if _, err := decodeFrame([]byte{0, 0}); err == nil {
		t.Error("short frame should fail")
	}
	if _, err := decodeFrame([]byte{0, 0, 0, 9, 'x'}); err == nil {
		t.Error("frame with lying metadata size should fail")
	}
}
