package surface

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mikerobots/cube-builder/events"
)

const (
	phaseLabel = "phase"
	lodLabel   = "lod"
)

var (
	generationTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surface_generation_tasks",
		Help: "Mesh generation tasks by terminal phase.",
	}, []string{
		phaseLabel,
	})

	generationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surface_generation_latency",
		Help:    "The time to extract, simplify and build one mesh.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{
		lodLabel,
	})

	degradedCells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surface_degraded_cells",
		Help: "Cells whose vertex fell back to the mass point because the QEF could not be solved.",
	})
)

func instrumentTask(phase events.Phase) {
	generationTasks.With(prometheus.Labels{
		phaseLabel: phase.String(),
	}).Inc()
}

func instrumentGeneration(level LODLevel, start time.Time) {
	generationLatency.With(prometheus.Labels{
		lodLabel: level.String(),
	}).Observe(time.Since(start).Seconds())
}
