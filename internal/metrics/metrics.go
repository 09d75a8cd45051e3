// Package metrics is a thin Prometheus abstraction so BigMap's Index can be
// used with or without a metrics registry: with one, labeled counters and
// gauges are registered and updated; without one, a no-op sink absorbs the
// calls so the hot path never pays for metric updates it can't observe.
//
// Grounded directly on Voskan-arena-cache's pkg/metrics.go metricsSink
// interface and its noopMetrics/promMetrics dual implementation, generalized
// from cache hit/miss/eviction counters to BigMap's put/get/delete/split/
// search counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the internal interface BigMap's Index depends on; callers never
// see the concrete backend.
type Sink interface {
	IncPut()
	IncGet()
	IncDelete()
	IncAppend()
	IncBatchPut(n int)
	IncSplit()
	ObserveSearchSeconds(seconds float64)
	SetShardUsedBytes(shardID string, used int64)
	SetShardCount(n int)
}

// Noop discards every call; used when the operator hasn't configured a
// Prometheus registry.
type Noop struct{}

func (Noop) IncPut()                              {}
func (Noop) IncGet()                              {}
func (Noop) IncDelete()                            {}
func (Noop) IncAppend()                            {}
func (Noop) IncBatchPut(int)                       {}
func (Noop) IncSplit()                             {}
func (Noop) ObserveSearchSeconds(float64)          {}
func (Noop) SetShardUsedBytes(string, int64)       {}
func (Noop) SetShardCount(int)                     {}

// Prom is the real Prometheus-backed Sink.
type Prom struct {
	puts        prometheus.Counter
	gets        prometheus.Counter
	deletes     prometheus.Counter
	appends     prometheus.Counter
	batchPuts   prometheus.Counter
	splits      prometheus.Counter
	searchSecs  prometheus.Histogram
	shardBytes  *prometheus.GaugeVec
	shardCount  prometheus.Gauge
}

// NewProm builds and registers BigMap's collector set against reg.
func NewProm(reg *prometheus.Registry) *Prom {
	p := &Prom{
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bigmap", Name: "puts_total", Help: "Number of put operations.",
		}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bigmap", Name: "gets_total", Help: "Number of get operations.",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bigmap", Name: "deletes_total", Help: "Number of delete operations.",
		}),
		appends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bigmap", Name: "appends_total", Help: "Number of append operations.",
		}),
		batchPuts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bigmap", Name: "batch_put_entries_total", Help: "Number of entries accepted by batch_put.",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bigmap", Name: "splits_total", Help: "Number of shard splits performed by maintenance.",
		}),
		searchSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bigmap", Name: "search_duration_seconds", Help: "search() latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		shardBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bigmap", Name: "shard_used_bytes", Help: "used_bytes per data shard.",
		}, []string{"shard_id"}),
		shardCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bigmap", Name: "shard_count", Help: "Number of data shards currently in the ring.",
		}),
	}
	reg.MustRegister(p.puts, p.gets, p.deletes, p.appends, p.batchPuts, p.splits, p.searchSecs, p.shardBytes, p.shardCount)
	return p
}

func (p *Prom) IncPut()                        { p.puts.Inc() }
func (p *Prom) IncGet()                        { p.gets.Inc() }
func (p *Prom) IncDelete()                     { p.deletes.Inc() }
func (p *Prom) IncAppend()                     { p.appends.Inc() }
func (p *Prom) IncBatchPut(n int)              { p.batchPuts.Add(float64(n)) }
func (p *Prom) IncSplit()                      { p.splits.Inc() }
func (p *Prom) ObserveSearchSeconds(s float64) { p.searchSecs.Observe(s) }
func (p *Prom) SetShardUsedBytes(shardID string, used int64) {
	p.shardBytes.WithLabelValues(shardID).Set(float64(used))
}
func (p *Prom) SetShardCount(n int) { p.shardCount.Set(float64(n)) }

// New returns Noop when reg is nil, otherwise a registered Prom sink —
// mirroring Voskan-arena-cache's newMetricsSink factory.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return Noop{}
	}
	return NewProm(reg)
}
