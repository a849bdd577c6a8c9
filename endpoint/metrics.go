package endpoint

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled by the gateway, by route and HTTP status code.",
		},
		[]string{"service", "method", "code"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rejected_total",
			Help: "Requests rejected by per-route admission control.",
		},
		[]string{"service", "method"},
	)

	outstandingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_outstanding_requests",
			Help: "Requests currently in flight, by route.",
		},
		[]string{"service", "method"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, rejectedTotal, outstandingGauge)
}

func observe(service, method string, code int) {
	requestsTotal.WithLabelValues(service, method, strconv.Itoa(code)).Inc()
}
