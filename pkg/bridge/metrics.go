package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_deposit_bridge_quotes_total",
			Help: "Total number of bridge quotes requested, grouped by result",
		}, []string{"result"})
	quoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_deposit_bridge_quote_duration_seconds",
			Help:    "Time taken by the bridge provider to answer a quote",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})
	orderPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_deposit_bridge_order_polls_total",
			Help: "Total number of bridge order status polls, grouped by result",
		}, []string{"result"})
)
