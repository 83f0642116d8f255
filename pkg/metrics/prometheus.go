package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder on a Prometheus registry. Metric
// families are created lazily on first use, with the tag keys of that first
// call as the label set; later calls with a different tag set for the same
// name are dropped rather than panicking.
type PrometheusRecorder struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registering on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	return &PrometheusRecorder{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	cv, ok := p.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitize(name) + "_total",
		}, labelKeys(tags))
		if err := p.reg.Register(cv); err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = cv
	}
	p.mu.Unlock()

	m, err := cv.GetMetricWith(prometheus.Labels(tags))
	if err != nil {
		return
	}
	m.Add(value)
}

func (p *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	hv, ok := p.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitize(name) + "_seconds",
			Buckets: prometheus.DefBuckets,
		}, labelKeys(tags))
		if err := p.reg.Register(hv); err != nil {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = hv
	}
	p.mu.Unlock()

	m, err := hv.GetMetricWith(prometheus.Labels(tags))
	if err != nil {
		return
	}
	m.Observe(value)
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func labelKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
