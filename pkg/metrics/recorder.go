// Package metrics aggregates hydration and dirty-check observations across
// every scope in the process. The recorder is constructor-injected wherever it
// is needed; prometheus counters carry their own synchronization, so sharing
// one recorder between scopes is safe even though scopes themselves are
// single-threaded.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "entity_session"
)

// Recorder holds the prometheus collectors for the session core. It satisfies
// the Recorder interfaces of the hydration and dirtycheck packages.
type Recorder struct {
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	internerHits     *prometheus.CounterVec
	fullRowFallbacks *prometheus.CounterVec
	shapeTrips       *prometheus.CounterVec
	invalidations    *prometheus.CounterVec
	fullInvalidation prometheus.Counter
}

// NewRecorder builds a recorder and registers its collectors with reg. A nil
// registerer yields a working recorder whose counters are simply not exported.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Identity cache hits by entity type",
		}, []string{"entity"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Identity cache misses by entity type",
		}, []string{"entity"}),
		internerHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interner",
			Name:      "hits_total",
			Help:      "Query-scoped interner hits by entity type",
		}, []string{"entity"}),
		fullRowFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dirty",
			Name:      "fullrow_fallbacks_total",
			Help:      "Full-row write fallbacks by entity type and reason",
		}, []string{"entity", "reason"}),
		shapeTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dirty",
			Name:      "shape_ceiling_trips_total",
			Help:      "Update-shape ceiling trips by entity type",
		}, []string{"entity"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Targeted cache invalidations by entity type",
		}, []string{"entity"}),
		fullInvalidation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "full_invalidations_total",
			Help:      "Whole-scope invalidations caused by raw or untyped mutations",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			r.cacheHits, r.cacheMisses, r.internerHits,
			r.fullRowFallbacks, r.shapeTrips, r.invalidations, r.fullInvalidation,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// CacheHit records an identity-cache hit for an entity type.
func (r *Recorder) CacheHit(typeName string) {
	r.cacheHits.WithLabelValues(typeName).Inc()
}

// CacheMiss records an identity-cache miss for an entity type.
func (r *Recorder) CacheMiss(typeName string) {
	r.cacheMisses.WithLabelValues(typeName).Inc()
}

// InternerHit records an interner hit for an entity type.
func (r *Recorder) InternerHit(typeName string) {
	r.internerHits.WithLabelValues(typeName).Inc()
}

// FullRowFallback records a dirty-check degradation to a full-row write.
func (r *Recorder) FullRowFallback(typeName, reason string) {
	r.fullRowFallbacks.WithLabelValues(typeName, reason).Inc()
}

// ShapeCeilingTrip records a type exceeding its update-shape ceiling.
func (r *Recorder) ShapeCeilingTrip(typeName string) {
	r.shapeTrips.WithLabelValues(typeName).Inc()
}

// Invalidation records a targeted invalidation for an entity type.
func (r *Recorder) Invalidation(typeName string) {
	r.invalidations.WithLabelValues(typeName).Inc()
}

// FullInvalidation records a whole-scope invalidation.
func (r *Recorder) FullInvalidation() {
	r.fullInvalidation.Inc()
}
