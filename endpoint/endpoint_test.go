package endpoint_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"

	"github.com/brokerhq/httpgateway"
	"github.com/brokerhq/httpgateway/codec"
	"github.com/brokerhq/httpgateway/endpoint"
	"github.com/brokerhq/httpgateway/gatewaytesting"
	"github.com/brokerhq/httpgateway/invocation"
	"github.com/brokerhq/httpgateway/registry"
)

type fixture struct {
	fd      *desc.FileDescriptor
	reg     *registry.Registry
	codec   *codec.Codec
	factory *invocation.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fd, err := gatewaytesting.OrderFile()
	if err != nil {
		t.Fatalf("building test file: %v", err)
	}
	reg := registry.New(fd)
	c := codec.New(fd)
	return &fixture{fd: fd, reg: reg, codec: c, factory: invocation.NewFactory(reg, c)}
}

func (f *fixture) endpoint(t *testing.T, ch httpgateway.Channel, settings endpoint.Settings) *endpoint.Endpoint {
	t.Helper()
	provider := &gatewaytesting.FakeProvider{Channel: ch}
	return endpoint.New("orders.OrderService", "PlaceOrder", settings, provider, f.factory, f.codec)
}

// placeOrderReply serializes a PlaceOrderResponse for fakes to return.
func (f *fixture) placeOrderReply(t *testing.T, orderID string) []byte {
	t.Helper()
	m := dynamic.NewMessage(f.fd.FindMessage("orders.PlaceOrderResponse"))
	m.SetFieldByName("order_id", orderID)
	b, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func postOrder(e *endpoint.Endpoint, route endpoint.Route, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groupA/orders.OrderService/PlaceOrder", strings.NewReader(body))
	e.Handle(rec, req, route)
	return rec
}

var orderRoute = endpoint.Route{Group: "groupA", Service: "orders.OrderService", Method: "PlaceOrder"}

func TestHandleSuccess(t *testing.T) {
	f := newFixture(t)
	reply := f.placeOrderReply(t, "A7")
	ch := &gatewaytesting.FakeChannel{
		Reply: func(httpgateway.Payload) (httpgateway.Payload, error) {
			return httpgateway.Payload{Data: reply}, nil
		},
	}
	e := f.endpoint(t, ch, endpoint.Settings{})

	rec := postOrder(e, orderRoute, `{"sku":"X1","qty":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s; want 200", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if got["order_id"] != "A7" {
		t.Errorf("order_id = %v; want A7", got["order_id"])
	}
	if e.Outstanding() != 0 {
		t.Errorf("outstanding = %d after completion; want 0", e.Outstanding())
	}
}

func TestHandleFireAndForget(t *testing.T) {
	f := newFixture(t)
	ch := &gatewaytesting.FakeChannel{}
	provider := &gatewaytesting.FakeProvider{Channel: ch}
	e := endpoint.New("orders.OrderService", "RecordEvent", endpoint.Settings{}, provider, f.factory, f.codec)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groupA/orders.OrderService/RecordEvent", strings.NewReader(`{"name":"created"}`))
	e.Handle(rec, req, endpoint.Route{Group: "groupA", Service: "orders.OrderService", Method: "RecordEvent"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "{}" {
		t.Errorf("body = %q; want {}", body)
	}
	if len(ch.Sent()) != 1 {
		t.Error("event was not sent")
	}
}

func TestHandleMethodResolutionFailure(t *testing.T) {
	f := newFixture(t)
	e := f.endpoint(t, &gatewaytesting.FakeChannel{}, endpoint.Settings{})

	// two-element array cannot match PlaceOrder's single parameter
	rec := postOrder(e, orderRoute, `[{"sku":"X1"},{"sku":"X2"}]`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d; want 502", rec.Code)
	}
	var body struct {
		HTTPStatus        int    `json:"httpStatus"`
		HTTPStatusMessage string `json:"httpStatusMessage"`
		Timestamp         string `json:"timestamp"`
		Message           string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body.HTTPStatus != http.StatusBadGateway {
		t.Errorf("httpStatus = %d", body.HTTPStatus)
	}
	if body.HTTPStatusMessage != "Bad Gateway" {
		t.Errorf("httpStatusMessage = %q", body.HTTPStatusMessage)
	}
	if !strings.Contains(body.Message, "PlaceOrder") {
		t.Errorf("message %q does not describe the resolution failure", body.Message)
	}
	if _, err := time.Parse("2006-01-02 15:04:05", body.Timestamp); err != nil {
		t.Errorf("timestamp %q has wrong layout: %v", body.Timestamp, err)
	}
	if e.Outstanding() != 0 {
		t.Errorf("outstanding = %d after failure; want 0", e.Outstanding())
	}
}

func TestErrorBodyFieldOrder(t *testing.T) {
	f := newFixture(t)
	e := f.endpoint(t, &gatewaytesting.FakeChannel{}, endpoint.Settings{})

	rec := postOrder(e, orderRoute, `[{"sku":"X1"},{"sku":"X2"}]`)
	body := rec.Body.String()
	order := []string{`"httpStatus"`, `"httpStatusMessage"`, `"timestamp"`, `"message"`}
	last := -1
	for _, key := range order {
		i := strings.Index(body, key)
		if i < 0 {
			t.Fatalf("error body %q missing %s", body, key)
		}
		if i < last {
			t.Fatalf("error body %q has %s out of order", body, key)
		}
		last = i
	}
}

func TestHandleTimeout(t *testing.T) {
	f := newFixture(t)
	ch := gatewaytesting.NewBlockingChannel()
	defer ch.Release()
	e := f.endpoint(t, ch, endpoint.Settings{Timeout: 10 * time.Millisecond})

	rec := postOrder(e, orderRoute, `{"sku":"X1","qty":3}`)
	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("status = %d; want 408", rec.Code)
	}
	if e.Outstanding() != 0 {
		t.Errorf("outstanding = %d after timeout; want 0", e.Outstanding())
	}
}

func TestHandleTransportFailure(t *testing.T) {
	f := newFixture(t)
	ch := &gatewaytesting.FakeChannel{Err: errTransport{}}
	e := f.endpoint(t, ch, endpoint.Settings{})

	rec := postOrder(e, orderRoute, `{"sku":"X1","qty":3}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d; want 502", rec.Code)
	}
}

type errTransport struct{}

func (errTransport) Error() string { return "broker unavailable" }

func TestAdmissionControl(t *testing.T) {
	const (
		maxConcurrency = 10
		burst          = 50
	)
	f := newFixture(t)
	reply := f.placeOrderReply(t, "A7")
	ch := gatewaytesting.NewBlockingChannel()
	ch.Reply = func(httpgateway.Payload) (httpgateway.Payload, error) {
		return httpgateway.Payload{Data: reply}, nil
	}
	e := f.endpoint(t, ch, endpoint.Settings{MaxConcurrency: maxConcurrency})

	// fill the route to capacity; the channel parks each call
	codes := make(chan int, burst)
	var wg sync.WaitGroup
	for i := 0; i < maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := postOrder(e, orderRoute, `{"sku":"X1","qty":3}`)
			codes <- rec.Code
		}()
	}
	deadline := time.Now().Add(5 * time.Second)
	for ch.Waiting() < maxConcurrency {
		if time.Now().After(deadline) {
			t.Fatalf("only %d requests reached the channel", ch.Waiting())
		}
		time.Sleep(time.Millisecond)
	}

	// everything past the cap is rejected immediately, never queued
	for i := 0; i < burst-maxConcurrency; i++ {
		rec := postOrder(e, orderRoute, `{"sku":"X1","qty":3}`)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("request over the cap got %d; want 429", rec.Code)
		}
	}
	if got := e.Outstanding(); got != maxConcurrency {
		t.Errorf("outstanding = %d at capacity; want %d", got, maxConcurrency)
	}

	ch.Release()
	wg.Wait()
	close(codes)

	admitted := 0
	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("admitted request got %d; want 200", code)
		}
		admitted++
	}
	if admitted != maxConcurrency {
		t.Errorf("%d requests proceeded to dispatch; want %d", admitted, maxConcurrency)
	}
	if e.Outstanding() != 0 {
		t.Errorf("outstanding = %d after burst; want 0", e.Outstanding())
	}
}
