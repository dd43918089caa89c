// Package server exposes Prometheus instrumentation for the relay.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Currently open relay connections by role.",
	}, []string{"role"})

	messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Inbound messages dispatched by the router, by wire type.",
	}, []string{"type"})

	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dropped_total",
		Help: "Messages dropped instead of delivered, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(connectionsGauge, messagesTotal, droppedTotal)
}

// MetricsHandler exposes Prometheus metrics, mounted at /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
