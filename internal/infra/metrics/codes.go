package metrics

import (
	"license-activation-server/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		codesGeneratedTotal,
		codesTotal,
		codesExpiredTotal,
		devicesTotal,
	)
}

var (
	codesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codes_generated_total",
			Help: "Activation codes generated, by tier.",
		},
		[]string{"tier"},
	)

	codesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codes_total",
			Help: "Current number of activation codes by status.",
		},
		[]string{"status"}, // 'unused', 'active', 'expired', 'revoked'
	)

	codesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codes_expired_total",
			Help: "Total number of codes transitioned to expired by the reconciler.",
		},
	)

	devicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devices_total",
			Help: "Current number of known devices.",
		},
	)
)

func IncCodesGenerated(tier string, count int) {
	codesGeneratedTotal.WithLabelValues(norm(tier)).Add(float64(count))
}

func IncCodesExpired(count int) {
	codesExpiredTotal.Add(float64(count))
}

func SetCodesTotal(counts map[model.CodeStatus]int) {
	statuses := []model.CodeStatus{
		model.CodeStatusUnused,
		model.CodeStatusActive,
		model.CodeStatusExpired,
		model.CodeStatusRevoked,
	}
	for _, status := range statuses {
		if count, ok := counts[status]; ok {
			codesTotal.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}

func SetDevicesTotal(count int) {
	devicesTotal.Set(float64(count))
}
