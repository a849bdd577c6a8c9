// Command httpgateway runs the HTTP-to-RPC gateway: it loads the settings
// file, parses the proto schemas into a method registry, connects the broker
// channel provider, and serves the translation endpoints.
package main

import (
	"flag"
	"net/http"

	"github.com/jhump/protoreflect/desc/protoparse"
	log "github.com/sirupsen/logrus"

	"github.com/brokerhq/httpgateway/broker"
	"github.com/brokerhq/httpgateway/codec"
	"github.com/brokerhq/httpgateway/config"
	"github.com/brokerhq/httpgateway/endpoint"
	"github.com/brokerhq/httpgateway/invocation"
	"github.com/brokerhq/httpgateway/registry"
)

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to the gateway settings file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if level, err := log.ParseLevel(settings.Server.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("unknown log level %q, using info", settings.Server.LogLevel)
	}

	parser := protoparse.Parser{ImportPaths: settings.Proto.ImportPaths}
	files, err := parser.ParseFiles(settings.Proto.Files...)
	if err != nil {
		log.Fatalf("parsing proto schemas: %v", err)
	}
	reg := registry.New(files...)
	c := codec.New(files...)
	factory := invocation.NewFactory(reg, c)

	provider := broker.NewProvider(settings.BrokerAddr(), settings.Broker.AccessKey, settings.Broker.AccessToken)

	opts := []endpoint.ServerOption{}
	for _, r := range settings.Routes {
		opts = append(opts, endpoint.WithRoute(r.Service, r.Method, endpoint.Settings{
			Group:          r.Group,
			Timeout:        r.Timeout,
			MaxConcurrency: r.MaxConcurrency,
		}))
	}
	server := endpoint.NewServer(reg, provider, factory, c, opts...)

	log.WithFields(log.Fields{
		"addr":   settings.Server.ListenAddr,
		"broker": settings.BrokerAddr(),
	}).Info("gateway listening")
	if err := http.ListenAndServe(settings.Server.ListenAddr, server); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
