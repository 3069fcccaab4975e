package metrics

import (
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

type nop struct{}

func (nop) IncCounter(string, map[string]string, float64)       {}
func (nop) SetGauge(string, map[string]string, float64)         {}
func (nop) ObserveHistogram(string, map[string]string, float64) {}

// Nop drops everything.
var Nop Collector = nop{}

var help = map[string]string{
	"filecompare_runs_active":           "Comparisons currently running.",
	"filecompare_runs_total":            "Finished comparisons by operation and terminal state.",
	"filecompare_run_seconds":           "Wall time of finished comparisons.",
	"filecompare_rows_indexed_total":    "Rows inserted into comparison indexes.",
	"filecompare_rows_probed_total":     "Probe-side rows streamed against an index.",
	"filecompare_row_errors_total":      "Unreadable rows skipped, by file.",
	"filecompare_buckets_spilled_total": "Index buckets written to disk.",
	"filecompare_bucket_loads_total":    "Spilled buckets staged back into memory.",
	"filecompare_cache_hits_total":      "Bucket lookups served from the staging cache.",
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// Registry is a Collector backed by a Prometheus registry. A metric's label
// names are fixed by its first use; later calls with other label names are
// dropped with a warning.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func NewRegistry() *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	vec := lookup(r, r.counters, name, labels, func(keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, keys)
	})
	if vec == nil {
		return
	}
	c, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping counter sample", "metric", name, "error", err)
		return
	}
	c.Add(delta)
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	vec := lookup(r, r.gauges, name, labels, func(keys []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, keys)
	})
	if vec == nil {
		return
	}
	g, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping gauge sample", "metric", name, "error", err)
		return
	}
	g.Set(value)
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	vec := lookup(r, r.histograms, name, labels, func(keys []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: prometheus.DefBuckets,
		}, keys)
	})
	if vec == nil {
		return
	}
	h, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping histogram sample", "metric", name, "error", err)
		return
	}
	h.Observe(value)
}

// lookup returns the vector registered under name, creating and
// registering it on first use with labels' keys as its label names.
func lookup[V prometheus.Collector](r *Registry, vecs map[string]V, name string, labels map[string]string, create func([]string) V) V {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := vecs[name]; ok {
		return v
	}
	v := create(slices.Sorted(maps.Keys(labels)))
	if err := r.reg.Register(v); err != nil {
		slog.Warn("failed to register metric", "metric", name, "error", err)
		var zero V
		return zero
	}
	vecs[name] = v
	return v
}
