// Package metrics registers the Prometheus instruments for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	SegmentResolutions *prometheus.CounterVec
	Assignments        prometheus.Counter
	Conversions        prometheus.Counter
	OrphanConversions  prometheus.Counter
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
}

// New creates all metrics and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SegmentResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_segment_resolutions_total",
			Help: "Segment resolutions by winning source",
		}, []string{"source"}),
		Assignments: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_variant_assignments_total",
			Help: "New experiment variant assignments persisted",
		}),
		Conversions: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_conversions_total",
			Help: "Conversion events attributed to an assignment",
		}),
		OrphanConversions: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_orphan_conversions_dropped_total",
			Help: "Conversions dropped because no assignment existed",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_aggregate_cache_hits_total",
			Help: "Aggregate cache reads served fresh",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_aggregate_cache_misses_total",
			Help: "Aggregate cache reads that recomputed",
		}),
	}
}

// ResolutionRecorded counts one segment resolution by source.
func (m *Metrics) ResolutionRecorded(source string) {
	m.SegmentResolutions.WithLabelValues(source).Inc()
}

// AssignmentCreated counts one new variant assignment.
func (m *Metrics) AssignmentCreated() { m.Assignments.Inc() }

// ConversionRecorded counts one attributed conversion.
func (m *Metrics) ConversionRecorded() { m.Conversions.Inc() }

// OrphanConversionDropped counts one dropped unattributable conversion.
func (m *Metrics) OrphanConversionDropped() { m.OrphanConversions.Inc() }

// CacheHit counts one fresh cache read.
func (m *Metrics) CacheHit() { m.CacheHits.Inc() }

// CacheMiss counts one cache recompute.
func (m *Metrics) CacheMiss() { m.CacheMisses.Inc() }
