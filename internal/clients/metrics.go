package clients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "wormhole_svm_rpc_query_latency",
			Help: "Latency histogram for Solana RPC calls",
		}, []string{"method"})

	queryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wormhole_svm_rpc_query_errors_total",
			Help: "Total number of failed Solana RPC calls",
		}, []string{"method"})
)
