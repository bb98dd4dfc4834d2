package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		authorizationsTotal,
		authorizationLatencyMs,
	)
}

var (
	authorizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorizations_total",
			Help: "Authorization commands by command and result.",
		},
		[]string{"command", "result"}, // result: 'granted' or the deny reason
	)

	authorizationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authorization_latency_ms",
			Help:    "Authorization command latency distribution in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"command"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ObserveAuthorization records one completed command.
func ObserveAuthorization(command, result string, latencyMs float64) {
	authorizationsTotal.WithLabelValues(norm(command), norm(result)).Inc()
	authorizationLatencyMs.WithLabelValues(norm(command)).Observe(latencyMs)
}
