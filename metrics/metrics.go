// Package metrics exposes prometheus collectors for the cache layers and the
// unit of work commit path. A nil *Collector is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricLookups        = "lookups_total"
	MetricCommits        = "commits_total"
	MetricBatchSize      = "batch_statements"
	MetricOpenUnits      = "open_units"
	MetricDatabaseReads  = "database_reads_total"
	MetricCacheEvictions = "cache_invalidations_total"
)

// Lookup layers.
const (
	LayerLocal    = "local"
	LayerParent   = "parent"
	LayerProcess  = "process"
	LayerDatabase = "database"
	LayerMemo     = "memo"
)

// Lookup results.
const (
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultTombstone = "tombstone"
)

// Commit outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
	OutcomeDone      = "done"
)

// Collector groups the engine metrics.
type Collector struct {
	lookups       *prometheus.CounterVec
	commits       *prometheus.CounterVec
	batchSize     prometheus.Histogram
	openUnits     prometheus.Gauge
	databaseReads prometheus.Counter
	invalidations prometheus.Counter
}

// New creates unregistered collectors under namespace.
func New(namespace string) *Collector {
	return &Collector{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricLookups,
				Help:      "Cache lookups by layer and result.",
			},
			[]string{"layer", "result"},
		),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricCommits,
				Help:      "Unit of work resolutions by outcome.",
			},
			[]string{"outcome"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      MetricBatchSize,
				Help:      "Statements per submitted batch.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		openUnits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      MetricOpenUnits,
				Help:      "Root units of work currently open.",
			},
		),
		databaseReads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricDatabaseReads,
				Help:      "Statements executed against the database for reads.",
			},
		),
		invalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricCacheEvictions,
				Help:      "Process cache invalidations issued by root commits.",
			},
		),
	}
}

// Register adds every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if c == nil {
		return nil
	}
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is Register that panics.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	if err := c.Register(reg); err != nil {
		panic(err)
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.lookups, c.commits, c.batchSize, c.openUnits, c.databaseReads, c.invalidations}
}

func (c *Collector) Lookup(layer, result string) {
	if c == nil {
		return
	}
	c.lookups.WithLabelValues(layer, result).Inc()
}

func (c *Collector) Resolved(outcome string) {
	if c == nil {
		return
	}
	c.commits.WithLabelValues(outcome).Inc()
}

func (c *Collector) Batch(statements int) {
	if c == nil {
		return
	}
	c.batchSize.Observe(float64(statements))
}

func (c *Collector) UnitOpened() {
	if c == nil {
		return
	}
	c.openUnits.Inc()
}

func (c *Collector) UnitClosed() {
	if c == nil {
		return
	}
	c.openUnits.Dec()
}

func (c *Collector) DatabaseRead() {
	if c == nil {
		return
	}
	c.databaseReads.Inc()
}

func (c *Collector) Invalidation(n int) {
	if c == nil {
		return
	}
	c.invalidations.Add(float64(n))
}
