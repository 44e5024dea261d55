package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Registry's aggregates to a Prometheus scrape. Each
// series becomes a family of gauges named after the metric with its
// aggregate suffix, e.g. span_db_query_duration_p95.
//
// Register it on any prometheus.Registerer:
//
//	prometheus.MustRegister(metrics.NewCollector(reg, "pulselog"))
type Collector struct {
	registry  *Registry
	namespace string
	funcs     []gaugeFunc
}

type gaugeFunc struct {
	name string
	fn   func() float64
}

// NewCollector wraps registry for scraping under namespace.
func NewCollector(registry *Registry, namespace string) *Collector {
	return &Collector{registry: registry, namespace: namespace}
}

// GaugeFunc adds an externally computed gauge, read at scrape time. Useful
// for wiring pipeline counters (drops, retry depth) into the same scrape.
// Add all funcs before registering the collector.
func (c *Collector) GaugeFunc(name string, fn func() float64) *Collector {
	c.funcs = append(c.funcs, gaugeFunc{name: promName(c.namespace, name), fn: fn})
	return c
}

// Describe implements prometheus.Collector. Descriptors are dynamic, so this
// sends nothing and relies on the unchecked-collector path.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, agg := range c.registry.Snapshot() {
		base := promName(c.namespace, agg.Name)

		switch agg.Kind {
		case KindCounter:
			value, _ := c.registry.Value(agg.Name)
			c.emit(ch, base+"_total", prometheus.CounterValue, value, agg.Tags)
		case KindGauge:
			value, _ := c.registry.Value(agg.Name)
			c.emit(ch, base, prometheus.GaugeValue, value, agg.Tags)
		default:
			c.emit(ch, base+"_count", prometheus.GaugeValue, float64(agg.Count), agg.Tags)
			c.emit(ch, base+"_sum", prometheus.GaugeValue, agg.Sum, agg.Tags)
			c.emit(ch, base+"_avg", prometheus.GaugeValue, agg.Avg, agg.Tags)
			c.emit(ch, base+"_min", prometheus.GaugeValue, agg.Min, agg.Tags)
			c.emit(ch, base+"_max", prometheus.GaugeValue, agg.Max, agg.Tags)
			c.emit(ch, base+"_p50", prometheus.GaugeValue, agg.P50, agg.Tags)
			c.emit(ch, base+"_p95", prometheus.GaugeValue, agg.P95, agg.Tags)
			c.emit(ch, base+"_p99", prometheus.GaugeValue, agg.P99, agg.Tags)
		}
	}
	for _, gf := range c.funcs {
		c.emit(ch, gf.name, prometheus.GaugeValue, gf.fn(), nil)
	}
}

func (c *Collector) emit(ch chan<- prometheus.Metric, name string, valueType prometheus.ValueType, value float64, tags map[string]string) {
	desc := prometheus.NewDesc(name, "rolling-window aggregate", nil, tags)
	m, err := prometheus.NewConstMetric(desc, valueType, value)
	if err != nil {
		return
	}
	ch <- m
}

// promName maps a dotted metric name onto the prometheus charset.
func promName(namespace, name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if namespace == "" {
		return mapped
	}
	return namespace + "_" + mapped
}

var _ prometheus.Collector = (*Collector)(nil)
