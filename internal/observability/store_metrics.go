package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics tracks health of the local media store internals.
type StoreMetrics struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	ledgerRewrites prometheus.Counter
	desyncs        prometheus.Counter
	orphansSwept   prometheus.CounterVec
}

var (
	defaultStoreMetrics     *StoreMetrics
	defaultStoreMetricsOnce sync.Once
)

// NewStoreMetrics builds a StoreMetrics recorder using the default registry.
func NewStoreMetrics() *StoreMetrics {
	defaultStoreMetricsOnce.Do(func() {
		defaultStoreMetrics = newStoreMetrics(prometheus.DefaultRegisterer)
	})
	return defaultStoreMetrics
}

// NewStoreMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewStoreMetricsWithRegisterer(reg prometheus.Registerer) *StoreMetrics {
	return newStoreMetrics(reg)
}

func newStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &StoreMetrics{
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ironstag",
			Subsystem: "mediastore",
			Name:      "cache_hit_total",
			Help:      "Number of asset reads served from the in-memory cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ironstag",
			Subsystem: "mediastore",
			Name:      "cache_miss_total",
			Help:      "Number of asset reads that went to disk",
		}),
		ledgerRewrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ironstag",
			Subsystem: "mediastore",
			Name:      "ledger_rewrite_total",
			Help:      "Number of times the asset ledger was rewritten to disk",
		}),
		desyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ironstag",
			Subsystem: "mediastore",
			Name:      "desync_total",
			Help:      "Ledger entries found without a backing file during reads",
		}),
		orphansSwept: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironstag",
			Subsystem: "mediastore",
			Name:      "orphans_swept_total",
			Help:      "Startup sweep removals by kind (file without entry, entry without file)",
		}, []string{"kind"}),
	}
}

// RecordCacheHit increments the cache hit counter.
func (m *StoreMetrics) RecordCacheHit() {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (m *StoreMetrics) RecordCacheMiss() {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordLedgerRewrite increments the ledger rewrite counter.
func (m *StoreMetrics) RecordLedgerRewrite() {
	if m == nil || m.ledgerRewrites == nil {
		return
	}
	m.ledgerRewrites.Inc()
}

// RecordDesync counts a ledger entry whose backing file is missing.
func (m *StoreMetrics) RecordDesync() {
	if m == nil || m.desyncs == nil {
		return
	}
	m.desyncs.Inc()
}

// RecordOrphanSwept counts a startup sweep removal of the given kind.
func (m *StoreMetrics) RecordOrphanSwept(kind string) {
	if m == nil {
		return
	}
	counter := m.orphansSwept.WithLabelValues(kind)
	counter.Inc()
}
