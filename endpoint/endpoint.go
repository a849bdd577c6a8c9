// Package endpoint implements the gateway's per-route request dispatcher:
// admission control, timeout enforcement, channel resolution, and the
// mapping of translation outcomes onto HTTP responses.
package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/brokerhq/httpgateway"
	"github.com/brokerhq/httpgateway/codec"
	"github.com/brokerhq/httpgateway/invocation"
)

// Settings is the per-route policy applied by an Endpoint.
type Settings struct {
	// Group is the default group, used when the request path does not name
	// one. Empty means requests must always address a group explicitly.
	Group string
	// Timeout bounds the reply-awaiting phase of request-reply calls. Zero
	// means no timeout. Fire-and-forget calls have no await phase and are
	// never bounded.
	Timeout time.Duration
	// MaxConcurrency caps concurrently outstanding requests on this route.
	// Excess requests are rejected with 429, never queued. Zero means
	// unlimited.
	MaxConcurrency int64
}

// Endpoint dispatches requests for one (service, method) route. The
// outstanding-request counter is the only mutable state shared across
// concurrent requests; all mutation is atomic.
type Endpoint struct {
	service  string
	method   string
	settings Settings
	channels httpgateway.ChannelProvider
	factory  *invocation.Factory
	codec    *codec.Codec

	outstanding int64
}

// New returns an Endpoint for the given route.
func New(service, method string, settings Settings, channels httpgateway.ChannelProvider, factory *invocation.Factory, c *codec.Codec) *Endpoint {
	return &Endpoint{
		service:  service,
		method:   method,
		settings: settings,
		channels: channels,
		factory:  factory,
		codec:    c,
	}
}

// Outstanding returns the current outstanding-request count.
func (e *Endpoint) Outstanding() int64 {
	return atomic.LoadInt64(&e.outstanding)
}

// Handle drives one request through the translation pipeline. The admission
// check is a non-blocking test-and-increment; every increment is paired with
// exactly one decrement regardless of the completion path.
func (e *Endpoint) Handle(w http.ResponseWriter, r *http.Request, route Route) {
	if !e.admit() {
		rejectedTotal.WithLabelValues(e.service, e.method).Inc()
		observe(e.service, e.method, http.StatusTooManyRequests)
		writeError(w, http.StatusTooManyRequests, "concurrency limit reached")
		return
	}
	defer e.release()

	code := e.serve(w, r, route)
	observe(e.service, e.method, code)
}

func (e *Endpoint) admit() bool {
	if n := atomic.AddInt64(&e.outstanding, 1); e.settings.MaxConcurrency > 0 && n > e.settings.MaxConcurrency {
		atomic.AddInt64(&e.outstanding, -1)
		return false
	}
	outstandingGauge.WithLabelValues(e.service, e.method).Inc()
	return true
}

func (e *Endpoint) release() {
	atomic.AddInt64(&e.outstanding, -1)
	outstandingGauge.WithLabelValues(e.service, e.method).Dec()
}

// serve performs the translation and returns the HTTP status code written.
func (e *Endpoint) serve(w http.ResponseWriter, r *http.Request, route Route) int {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return e.fail(w, http.StatusBadGateway, err)
	}

	ch, err := e.resolveChannel(route, r.Header)
	if err != nil {
		return e.fail(w, http.StatusBadGateway, err)
	}

	inv, err := e.factory.Create(ch, route.Service, route.Method, body)
	if err != nil {
		return e.fail(w, http.StatusBadGateway, err)
	}

	ctx := r.Context()
	if e.settings.Timeout > 0 && !inv.FireAndForget() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settings.Timeout)
		defer cancel()
	}

	data, err := inv.Invoke(ctx)
	if err != nil {
		if isTimeout(err) {
			terr := &httpgateway.TimeoutError{
				Service: route.Service,
				Method:  route.Method,
				Timeout: e.settings.Timeout,
			}
			return e.fail(w, http.StatusRequestTimeout, terr)
		}
		return e.fail(w, http.StatusBadGateway, err)
	}

	if inv.FireAndForget() {
		return writeJSON(w, []byte("{}"))
	}

	jsonBody, err := e.codec.Encode(inv.Descriptor().Response, data)
	if err != nil {
		rerr := &httpgateway.ResponseDecodeError{
			Type: inv.Descriptor().Response.GetFullyQualifiedName(),
			Err:  err,
		}
		return e.fail(w, http.StatusBadGateway, rerr)
	}
	return writeJSON(w, jsonBody)
}

// resolveChannel picks the channel for the route's group or destination,
// falling back to the endpoint's default group when the path named none.
func (e *Endpoint) resolveChannel(route Route, headers http.Header) (httpgateway.Channel, error) {
	group := route.Group
	if group == "" {
		group = e.settings.Group
	}
	if group == "" {
		return nil, errors.New("no group in request path and no default group configured")
	}
	if route.Destination != "" {
		return e.channels.Destination(route.Destination, group, headers)
	}
	return e.channels.Group(group, headers)
}

func (e *Endpoint) fail(w http.ResponseWriter, code int, err error) int {
	log.WithFields(log.Fields{
		"service": e.service,
		"method":  e.method,
		"code":    code,
	}).Warnf("request failed: %v", err)
	writeError(w, code, err.Error())
	return code
}

func writeJSON(w http.ResponseWriter, body []byte) int {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
	return http.StatusOK
}

// isTimeout reports whether the error represents an elapsed reply deadline,
// either from the gateway's own timeout context or surfaced as a gRPC status
// by the channel.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return status.Code(err) == codes.DeadlineExceeded
}
