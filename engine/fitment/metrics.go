package fitment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitment_process_total",
		Help: "Processing calls by result",
	}, []string{"result"})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitment_process_duration_seconds",
		Help:    "Duration of successful processing calls",
		Buckets: prometheus.DefBuckets,
	})

	linesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitment_lines_total",
		Help: "Processed application lines by status",
	}, []string{"status"})

	associatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitment_associations_total",
		Help: "Product fitment associations written",
	})
)
