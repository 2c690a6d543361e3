package mapping

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitment_mapping_refresh_total",
		Help: "Mapping cache refreshes by result",
	}, []string{"result"})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitment_mapping_cache_entries",
		Help: "Active mappings in the current cache snapshot",
	})
)
