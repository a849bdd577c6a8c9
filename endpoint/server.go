package endpoint

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brokerhq/httpgateway"
	"github.com/brokerhq/httpgateway/codec"
	"github.com/brokerhq/httpgateway/invocation"
	"github.com/brokerhq/httpgateway/registry"
)

// Server routes inbound HTTP requests to per-route Endpoints. One Endpoint
// exists per (service, method) pair, created lazily on first use and reused
// for the process lifetime, so each route keeps its own outstanding-request
// counter. Routes are checked against the method registry before an Endpoint
// is created, so requests for unknown services or methods are rejected
// without retaining any per-route state.
type Server struct {
	router   *httprouter.Router
	registry *registry.Registry
	channels httpgateway.ChannelProvider
	factory  *invocation.Factory
	codec    *codec.Codec

	defaults Settings
	settings map[string]Settings

	endpoints sync.Map // route key -> *Endpoint
}

// ServerOption is an option used when constructing a NewServer.
type ServerOption interface {
	apply(*Server)
}

type serverOptFunc func(*Server)

func (fn serverOptFunc) apply(s *Server) {
	fn(s)
}

// WithRoute configures per-route settings for the given service and method.
// Routes without explicit settings use the defaults.
func WithRoute(service, method string, settings Settings) ServerOption {
	return serverOptFunc(func(s *Server) {
		s.settings[routeKey(service, method)] = settings
	})
}

// WithDefaults configures the settings applied to routes that have no
// explicit per-route settings.
func WithDefaults(settings Settings) ServerOption {
	return serverOptFunc(func(s *Server) {
		s.defaults = settings
	})
}

// NewServer returns a gateway server that resolves channels through the
// given provider and methods through the given invocation factory.
//
// The HTTP surface is POST /{group}/{service}/{method}, with an optional
// destination segment after the group, plus GET /metrics for Prometheus.
// The two call path shapes share parameter positions under different names,
// which httprouter's tree cannot express as typed patterns, so calls are
// matched with a catch-all and parsed by ParseRoute.
func NewServer(reg *registry.Registry, channels httpgateway.ChannelProvider, factory *invocation.Factory, c *codec.Codec, opts ...ServerOption) *Server {
	s := &Server{
		router:   httprouter.New(),
		registry: reg,
		channels: channels,
		factory:  factory,
		codec:    c,
		settings: map[string]Settings{},
	}
	for _, o := range opts {
		o.apply(s)
	}
	s.router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	s.router.POST("/*path", s.handle)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	route, err := ParseRoute(p.ByName("path"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	// resolve against the registry before touching the endpoint cache, so
	// unknown routes never allocate an Endpoint or metric labels
	matches, err := s.registry.Lookup(route.Service, route.Method)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(matches) == 0 {
		writeError(w, http.StatusBadGateway,
			fmt.Sprintf("no method %q on service %q", route.Method, route.Service))
		return
	}
	s.endpoint(route).Handle(w, r, route)
}

// endpoint returns the dispatcher for the route, creating it on first use.
// LoadOrStore collapses concurrent creation races to a single live instance.
func (s *Server) endpoint(route Route) *Endpoint {
	key := routeKey(route.Service, route.Method)
	if e, ok := s.endpoints.Load(key); ok {
		return e.(*Endpoint)
	}
	st, ok := s.settings[key]
	if !ok {
		st = s.defaults
	}
	e, _ := s.endpoints.LoadOrStore(key, New(route.Service, route.Method, st, s.channels, s.factory, s.codec))
	return e.(*Endpoint)
}

func routeKey(service, method string) string {
	return strings.ToLower(service + "/" + method)
}
