package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordBytesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xnode_record_bytes_appended_total",
		Help: "Total number of record bytes appended to record files",
	})

	recordRollovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xnode_record_file_rollovers_total",
		Help: "Total number of record file rollovers",
	})
)
