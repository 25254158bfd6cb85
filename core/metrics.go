package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xnode_blocks_persisted_total",
		Help: "Total number of blocks written to the block index",
	})

	bestHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xnode_best_height",
		Help: "Height of the current main chain tip",
	})

	txPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xnode_txpool_size",
		Help: "Number of transactions in the pending pool",
	})
)
