package meshcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeLabel = "outcome"

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshcache_lookups",
		Help: "Cache lookups by outcome: hit, miss or join.",
	}, []string{
		outcomeLabel,
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshcache_evictions",
		Help: "Entries removed to stay within the memory budget.",
	})

	cacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshcache_invalidations",
		Help: "Entries removed because the voxels under them changed.",
	})

	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshcache_bytes",
		Help: "Estimated bytes held by cached meshes.",
	})
)

func instrumentLookup(outcome string) {
	cacheLookups.With(prometheus.Labels{
		outcomeLabel: outcome,
	}).Inc()
}
