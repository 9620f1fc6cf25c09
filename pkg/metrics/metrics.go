package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)       {}
func (Nop) SetGauge(string, map[string]string, float64)         {}
func (Nop) ObserveHistogram(string, map[string]string, float64) {}

// Registry is a Collector backed by a Prometheus registry. A metric vector is
// registered the first time its name is used; its label names are the keys
// of that first label set and every later call must use the same keys.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewRegistry returns an empty registry with the Go runtime and process
// collectors installed.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	r.mu.Lock()
	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames(labels))
		if !r.register(name, vec) {
			vec = nil
		}
		r.counters[name] = vec
	}
	r.mu.Unlock()

	if vec == nil {
		return
	}
	c, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping counter sample", "name", name, "error", err)
		return
	}
	c.Add(delta)
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames(labels))
		if !r.register(name, vec) {
			vec = nil
		}
		r.gauges[name] = vec
	}
	r.mu.Unlock()

	if vec == nil {
		return
	}
	g, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping gauge sample", "name", name, "error", err)
		return
	}
	g.Set(value)
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	vec, ok := r.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 9),
		}, labelNames(labels))
		if !r.register(name, vec) {
			vec = nil
		}
		r.histograms[name] = vec
	}
	r.mu.Unlock()

	if vec == nil {
		return
	}
	h, err := vec.GetMetricWith(labels)
	if err != nil {
		slog.Warn("dropping histogram sample", "name", name, "error", err)
		return
	}
	h.Observe(value)
}

// register must be called with r.mu held.
func (r *Registry) register(name string, c prometheus.Collector) bool {
	if err := r.reg.Register(c); err != nil {
		slog.Error("failed to register metric, its samples will be dropped", "name", name, "error", err)
		return false
	}
	return true
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Value returns the current value of a counter or gauge, or the sum of a
// histogram. Unknown series read as zero.
func (r *Registry) Value(name string, labels map[string]string) float64 {
	// Gather still returns what it could collect alongside an error.
	families, _ := r.reg.Gather()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !sameLabels(m.GetLabel(), labels) {
				continue
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				return m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				return m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				return m.GetHistogram().GetSampleSum()
			}
		}
	}
	return 0
}

func sameLabels(pairs []*dto.LabelPair, labels map[string]string) bool {
	if len(pairs) != len(labels) {
		return false
	}
	for _, p := range pairs {
		if v, ok := labels[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
