// Package metrics exposes bridge statistics as a prometheus collector.
// The collector reads a snapshot on every scrape; nothing in the hot path
// touches prometheus directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/trestle/pkg/domain"
)

// StatsSource supplies the snapshot a scrape reports.
type StatsSource func() domain.BridgeStats

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	source StatsSource

	conversions    *prometheus.Desc
	conversionLat  *prometheus.Desc
	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheEvictions *prometheus.Desc
	cacheEntries   *prometheus.Desc
	txns           *prometheus.Desc
	txnPeakActive  *prometheus.Desc
	txnDuration    *prometheus.Desc
	executions     *prometheus.Desc
	modulesLoaded  *prometheus.Desc
	heapBytes      *prometheus.Desc
}

// NewCollector builds a collector reading snapshots from source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		conversions: prometheus.NewDesc(
			"trestle_conversions_total",
			"Type conversions by direction and outcome",
			[]string{"direction", "outcome"}, nil,
		),
		conversionLat: prometheus.NewDesc(
			"trestle_conversion_latency_seconds",
			"Running mean conversion latency",
			nil, nil,
		),
		cacheHits: prometheus.NewDesc(
			"trestle_cache_hits_total",
			"Accessor cache hits",
			[]string{"accessor"}, nil,
		),
		cacheMisses: prometheus.NewDesc(
			"trestle_cache_misses_total",
			"Accessor cache misses",
			[]string{"accessor"}, nil,
		),
		cacheEvictions: prometheus.NewDesc(
			"trestle_cache_evictions_total",
			"Accessor cache evictions",
			[]string{"accessor"}, nil,
		),
		cacheEntries: prometheus.NewDesc(
			"trestle_cache_entries",
			"Current accessor cache entries",
			[]string{"accessor"}, nil,
		),
		txns: prometheus.NewDesc(
			"trestle_transactions_total",
			"Transactions by final status",
			[]string{"status"}, nil,
		),
		txnPeakActive: prometheus.NewDesc(
			"trestle_transactions_peak_active",
			"High-water mark of concurrently active transactions",
			nil, nil,
		),
		txnDuration: prometheus.NewDesc(
			"trestle_transaction_duration_seconds",
			"Running mean transaction duration",
			nil, nil,
		),
		executions: prometheus.NewDesc(
			"trestle_script_executions_total",
			"Script executions by outcome",
			[]string{"outcome"}, nil,
		),
		modulesLoaded: prometheus.NewDesc(
			"trestle_script_modules_loaded",
			"Currently cached script modules",
			nil, nil,
		),
		heapBytes: prometheus.NewDesc(
			"trestle_heap_bytes",
			"Process heap usage",
			[]string{"kind"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conversions
	ch <- c.conversionLat
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheEvictions
	ch <- c.cacheEntries
	ch <- c.txns
	ch <- c.txnPeakActive
	ch <- c.txnDuration
	ch <- c.executions
	ch <- c.modulesLoaded
	ch <- c.heapBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()

	ch <- prometheus.MustNewConstMetric(c.conversions, prometheus.CounterValue,
		float64(s.Conversion.ToHostOK), "to_host", "ok")
	ch <- prometheus.MustNewConstMetric(c.conversions, prometheus.CounterValue,
		float64(s.Conversion.ToHostFail), "to_host", "fail")
	ch <- prometheus.MustNewConstMetric(c.conversions, prometheus.CounterValue,
		float64(s.Conversion.ToDynamicOK), "to_dynamic", "ok")
	ch <- prometheus.MustNewConstMetric(c.conversions, prometheus.CounterValue,
		float64(s.Conversion.ToDynamicFail), "to_dynamic", "fail")
	ch <- prometheus.MustNewConstMetric(c.conversionLat, prometheus.GaugeValue,
		s.Conversion.AvgLatency.Seconds())

	c.collectCache(ch, "elements", s.Elements.Cache)
	c.collectCache(ch, "parameters", s.Parameters.Cache)
	c.collectCache(ch, "geometry", s.Geometry.Cache)

	ch <- prometheus.MustNewConstMetric(c.txns, prometheus.CounterValue,
		float64(s.Txn.Committed), "committed")
	ch <- prometheus.MustNewConstMetric(c.txns, prometheus.CounterValue,
		float64(s.Txn.RolledBack), "rolled_back")
	ch <- prometheus.MustNewConstMetric(c.txns, prometheus.CounterValue,
		float64(s.Txn.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(c.txnPeakActive, prometheus.GaugeValue,
		float64(s.Txn.PeakActive))
	ch <- prometheus.MustNewConstMetric(c.txnDuration, prometheus.GaugeValue,
		s.Txn.AvgDuration.Seconds())

	ch <- prometheus.MustNewConstMetric(c.executions, prometheus.CounterValue,
		float64(s.Runtime.Executions-s.Runtime.Failures), "ok")
	ch <- prometheus.MustNewConstMetric(c.executions, prometheus.CounterValue,
		float64(s.Runtime.Failures), "fail")
	ch <- prometheus.MustNewConstMetric(c.modulesLoaded, prometheus.GaugeValue,
		float64(s.Runtime.ModulesLoaded))

	ch <- prometheus.MustNewConstMetric(c.heapBytes, prometheus.GaugeValue,
		float64(s.HeapAlloc), "alloc")
	ch <- prometheus.MustNewConstMetric(c.heapBytes, prometheus.GaugeValue,
		float64(s.HeapInUse), "inuse")
}

func (c *Collector) collectCache(ch chan<- prometheus.Metric, accessor string, s domain.CacheStats) {
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue,
		float64(s.Hits), accessor)
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue,
		float64(s.Misses), accessor)
	ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue,
		float64(s.Evictions), accessor)
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue,
		float64(s.Entries), accessor)
}
