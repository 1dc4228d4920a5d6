package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// register adds c to the default registry. When an identical collector is
// already registered the existing one is returned so components created
// more than once share their series.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Counter is a self-registering counter for components that own their
// metrics, such as the session registry and the MQTT notifier.
type Counter struct {
	counter prometheus.Counter
}

func NewCounter(name string, labels map[string]string) *Counter {
	return &Counter{counter: register(prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        name,
		ConstLabels: labels,
	}))}
}

func (c *Counter) Inc()          { c.counter.Inc() }
func (c *Counter) Add(v float64) { c.counter.Add(v) }

type Gauge struct {
	gauge prometheus.Gauge
}

func NewGauge(name string, labels map[string]string) *Gauge {
	return &Gauge{gauge: register(prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        name,
		ConstLabels: labels,
	}))}
}

func (g *Gauge) Set(v float64) { g.gauge.Set(v) }
func (g *Gauge) Inc()          { g.gauge.Inc() }
func (g *Gauge) Dec()          { g.gauge.Dec() }
func (g *Gauge) Add(v float64) { g.gauge.Add(v) }
func (g *Gauge) Sub(v float64) { g.gauge.Sub(v) }

type Histogram struct {
	histogram prometheus.Histogram
}

func NewHistogram(name string, labels map[string]string, buckets []float64) *Histogram {
	return &Histogram{histogram: register(prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        name,
		Help:        name,
		ConstLabels: labels,
		Buckets:     buckets,
	}))}
}

func (h *Histogram) Observe(v float64) { h.histogram.Observe(v) }
