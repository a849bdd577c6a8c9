// Package broker provides the production ChannelProvider: channels to the
// broker carried over gRPC, one cached connection per group or destination
// key, with access credentials attached to every call as metadata.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/brokerhq/httpgateway"
)

// Broker-side methods that carry gateway payloads. The gateway addresses the
// real target service through the payload's metadata frame, not through
// these method names.
const (
	requestReplyMethod  = "/broker.Broker/RequestReply"
	fireAndForgetMethod = "/broker.Broker/FireAndForget"
)

// conn is the subset of *grpc.ClientConn the channel needs; tests substitute
// an in-memory implementation.
type conn interface {
	Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error
}

// Provider implements httpgateway.ChannelProvider over gRPC connections to
// the broker. One connection is kept per group or destination key, created
// lazily on first use and reused for the process lifetime; the broker client
// reconnects internally, so entries are never evicted.
type Provider struct {
	target      string
	accessKey   int64
	accessToken string
	dialOpts    []grpc.DialOption

	// dial is swapped out by tests
	dial func(target string, opts ...grpc.DialOption) (conn, error)

	groups       sync.Map // group -> *entry
	destinations sync.Map // group+destination -> *entry
}

// NewProvider returns a Provider that dials the broker at hostPort. The
// access key and token are attached to every outgoing call.
func NewProvider(hostPort string, accessKey int64, accessToken string, opts ...grpc.DialOption) *Provider {
	return &Provider{
		target:      hostPort,
		accessKey:   accessKey,
		accessToken: accessToken,
		dialOpts:    append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
		dial: func(target string, opts ...grpc.DialOption) (conn, error) {
			return grpc.Dial(target, opts...)
		},
	}
}

// entry is a channel cache slot. LoadOrStore of an empty entry makes the
// insert atomic; the Once collapses concurrent first uses to a single dial.
type entry struct {
	once sync.Once
	ch   httpgateway.Channel
	err  error
}

// Group returns the cached channel for a load-balanced group, dialing it on
// first use. Routing hints in the headers are currently unused by this
// provider; the broker balances within the group on its own.
func (p *Provider) Group(group string, headers http.Header) (httpgateway.Channel, error) {
	e, loaded := loadOrStoreEntry(&p.groups, group)
	e.once.Do(func() {
		if !loaded {
			log.Debugf("creating broker channel for group %q", group)
		}
		e.ch, e.err = p.connect(group, "")
	})
	return e.ch, e.err
}

// Destination returns the cached channel for a specific destination within a
// group, bypassing the broker's load balancing.
func (p *Provider) Destination(destination, group string, headers http.Header) (httpgateway.Channel, error) {
	e, loaded := loadOrStoreEntry(&p.destinations, group+destination)
	e.once.Do(func() {
		if !loaded {
			log.Debugf("creating broker channel for destination %q in group %q", destination, group)
		}
		e.ch, e.err = p.connect(group, destination)
	})
	return e.ch, e.err
}

func loadOrStoreEntry(m *sync.Map, key string) (*entry, bool) {
	if e, ok := m.Load(key); ok {
		return e.(*entry), true
	}
	e, loaded := m.LoadOrStore(key, &entry{})
	return e.(*entry), loaded
}

func (p *Provider) connect(group, destination string) (httpgateway.Channel, error) {
	cc, err := p.dial(p.target, p.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dialing broker at %s: %w", p.target, err)
	}
	md := metadata.Pairs(
		"broker-group", group,
		"access-key", strconv.FormatInt(p.accessKey, 10),
		"access-token", p.accessToken,
	)
	if destination != "" {
		md.Set("broker-destination", destination)
	}
	return &channel{conn: cc, md: md}, nil
}

// channel carries gateway payloads over one gRPC connection. It is safe for
// concurrent multiplexed use; requests sharing it never serialize.
type channel struct {
	conn conn
	md   metadata.MD
}

var _ httpgateway.Channel = (*channel)(nil)

func (c *channel) RequestReply(ctx context.Context, req httpgateway.Payload) (httpgateway.Payload, error) {
	frame := encodeFrame(req)
	var reply []byte
	err := c.conn.Invoke(c.callContext(ctx), requestReplyMethod, &frame, &reply, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return httpgateway.Payload{}, err
	}
	return httpgateway.Payload{Data: reply}, nil
}

func (c *channel) FireAndForget(ctx context.Context, req httpgateway.Payload) error {
	frame := encodeFrame(req)
	var discard []byte
	return c.conn.Invoke(c.callContext(ctx), fireAndForgetMethod, &frame, &discard, grpc.ForceCodec(rawCodec{}))
}

func (c *channel) callContext(ctx context.Context) context.Context {
	return metadata.NewOutgoingContext(ctx, c.md)
}
