package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcore_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcore_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"mode", "outcome"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcore_settlements_total",
			Help: "Settlement attempts by entry point and outcome",
		},
		[]string{"source", "outcome"},
	)

	HoldsReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcore_holds_reaped_total",
			Help: "Expired holds released, by trigger (lazy or sweep)",
		},
		[]string{"trigger"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcore_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcore_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcore_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
