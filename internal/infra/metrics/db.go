package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(storeBusyTotal, storeTxLatencyMs, legacyImportedTotal) }

var (
	storeBusyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_busy_total",
			Help: "Commands that failed with the retryable busy condition.",
		},
		[]string{"stage"}, // 'lock' (per-key queue) or 'tx' (writer slot)
	)

	storeTxLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "store_tx_latency_ms",
			Help:    "Write transaction latency distribution in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	legacyImportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legacy_imported_total",
			Help: "Rows imported from the legacy flat-file records.",
		},
		[]string{"kind"}, // 'code' or 'device'
	)
)

func IncStoreBusy(stage string) {
	storeBusyTotal.WithLabelValues(norm(stage)).Inc()
}

func ObserveTxLatency(ms float64) {
	storeTxLatencyMs.Observe(ms)
}

func IncLegacyImported(kind string, count int) {
	legacyImportedTotal.WithLabelValues(norm(kind)).Add(float64(count))
}
