package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Artifact request results
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Metrics holds the Prometheus collectors. Each instance registers on its
// own registry so several can coexist in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	// Backend metrics
	BackendOps      *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec

	// Artifact cache metrics
	ArtifactRequests *prometheus.CounterVec
	ArtifactDerive   prometheus.Histogram

	// Blobs left behind by a failed cleanup
	OrphanedBlobs prometheus.Counter
}

// New creates a metrics collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BackendOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libfs_backend_operations_total",
				Help: "Total number of storage backend operations",
			},
			[]string{"kind", "op", "status"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "libfs_backend_operation_duration_seconds",
				Help:    "Storage backend operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind", "op"},
		),

		ArtifactRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libfs_artifact_requests_total",
				Help: "Artifact cache lookups by result",
			},
			[]string{"result"},
		),
		ArtifactDerive: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "libfs_artifact_derive_duration_seconds",
				Help:    "Time spent decoding, transforming and encoding artifacts",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		OrphanedBlobs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "libfs_orphaned_blobs_total",
				Help: "Blobs whose cleanup failed and remain in storage without a row",
			},
		),
	}
}

// Registry exposes the underlying registry for exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
