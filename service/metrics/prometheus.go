package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var labelNames = []string{"hub", "source"}

// Prometheus maps dotted metric names onto lazily registered vectors,
// e.g. "hub.event.stream.size" becomes shuttle_hub_event_stream_size.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string

	mu         sync.Mutex
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	return &Prometheus{
		reg:        reg,
		namespace:  namespace,
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		counters:   map[string]*prometheus.CounterVec{},
	}
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func (p *Prometheus) Gauge(name string, v float64, l Labels) {
	p.mu.Lock()
	g, ok := p.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      metricName(name),
			Help:      name,
		}, labelNames)
		g = register(p.reg, g)
		p.gauges[name] = g
	}
	p.mu.Unlock()
	g.WithLabelValues(l.Hub, l.Source).Set(v)
}

func (p *Prometheus) Timing(name string, d time.Duration, l Labels) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      metricName(name) + "_seconds",
			Help:      name,
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, labelNames)
		h = register(p.reg, h)
		p.histograms[name] = h
	}
	p.mu.Unlock()
	h.WithLabelValues(l.Hub, l.Source).Observe(d.Seconds())
}

func (p *Prometheus) Count(name string, n int, l Labels) {
	p.mu.Lock()
	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      metricName(name) + "_total",
			Help:      name,
		}, labelNames)
		c = register(p.reg, c)
		p.counters[name] = c
	}
	p.mu.Unlock()
	c.WithLabelValues(l.Hub, l.Source).Add(float64(n))
}

// register reuses an already registered collector of the same name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
