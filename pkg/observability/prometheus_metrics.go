package observability

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsClient implements MetricsClient on top of the
// Prometheus client library. Collectors are created lazily, on first
// use per metric name, and cached by name+label-set shape so repeated
// calls with the same label keys reuse the same vector.
type PrometheusMetricsClient struct {
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a client that registers its
// collectors with the given registerer (use prometheus.DefaultRegisterer
// in production, a fresh prometheus.NewRegistry() in tests).
func NewPrometheusMetricsClient(namespace string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (c *PrometheusMetricsClient) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := name
	if v, ok := c.counters[key]; ok {
		return v
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      name,
	}, labelNames(labels))
	prometheus.MustRegister(v)
	c.counters[key] = v
	return v
}

func (c *PrometheusMetricsClient) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := name
	if v, ok := c.gauges[key]; ok {
		return v
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      name,
	}, labelNames(labels))
	prometheus.MustRegister(v)
	c.gauges[key] = v
	return v
}

func (c *PrometheusMetricsClient) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := name
	if v, ok := c.histograms[key]; ok {
		return v
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      name,
		Buckets:   prometheus.DefBuckets,
	}, labelNames(labels))
	prometheus.MustRegister(v)
	c.histograms[key] = v
	return v
}

func (c *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	c.counterVec(name, nil).With(prometheus.Labels{}).Add(value)
}

func (c *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	c.counterVec(name, labels).With(labels).Add(value)
}

func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	c.gaugeVec(name, labels).With(labels).Set(value)
}

func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	c.histogramVec(name, labels).With(labels).Observe(value)
}

func (c *PrometheusMetricsClient) RecordDuration(name string, seconds float64, labels map[string]string) {
	c.RecordHistogram(name+"_duration_seconds", seconds, labels)
}
