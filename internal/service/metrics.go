package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportledger_reservations_total",
		Help: "Reservations by billing decision",
	}, []string{"report_type"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportledger_settlements_total",
		Help: "Reports reaching a terminal status, by status and refund",
	}, []string{"status", "refunded"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportledger_provider_duration_seconds",
		Help:    "Report provider call latency",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"result"})

	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportledger_swept_reports_total",
		Help: "Orphaned reports failed by the sweeper",
	})
)
