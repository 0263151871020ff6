package broadcast

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting fan-out activity.
type Metrics struct {
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	subscribers     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics registered with the global
// Prometheus registry. Created once to avoid duplicate registration panics
// when multiple broadcasters exist (e.g. in tests).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance against the given registerer.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	eventsPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alchemistral",
			Subsystem: "broadcast",
			Name:      "events_published_total",
			Help:      "Total number of events fanned out, by event type.",
		},
		[]string{"type"},
	)
	eventsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alchemistral",
			Subsystem: "broadcast",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		},
	)
	subscribers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alchemistral",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Number of currently connected event subscribers.",
		},
	)

	if err := reg.Register(eventsPublished); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			eventsPublished = already.ExistingCollector.(*prometheus.CounterVec)
		} else {
			panic(err)
		}
	}
	if err := reg.Register(eventsDropped); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			eventsDropped = already.ExistingCollector.(prometheus.Counter)
		} else {
			panic(err)
		}
	}
	if err := reg.Register(subscribers); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			subscribers = already.ExistingCollector.(prometheus.Gauge)
		} else {
			panic(err)
		}
	}

	return &Metrics{
		eventsPublished: eventsPublished,
		eventsDropped:   eventsDropped,
		subscribers:     subscribers,
	}
}

// IncPublished counts one fanned-out event of the given type.
func (m *Metrics) IncPublished(eventType string) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// IncDropped counts one event dropped on a full subscriber buffer.
func (m *Metrics) IncDropped() {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Inc()
}

// SetSubscribers records the current subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
