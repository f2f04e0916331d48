package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "easee"
	metricsSubsystem = "stream"
)

// Metrics holds the supervisor's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	state           prometheus.Gauge
	connectAttempts prometheus.Counter
	connectFailures *prometheus.CounterVec // by error kind
	events          *prometheus.CounterVec // by dispatch outcome
	subscriptions   prometheus.Gauge
	subscribesSent  prometheus.Counter
	backoff         prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "state",
			Help:      "Supervisor state (0=disconnected, 1=connecting, 2=connected, 3=closed)",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connect_attempts_total",
			Help:      "Total hub connection attempts",
		}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connect_failures_total",
			Help:      "Total failed hub connection attempts by error kind",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "events_total",
			Help:      "Total inbound device events by dispatch outcome",
		}, []string{"outcome"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subscriptions",
			Help:      "Number of registered device subscriptions",
		}),
		subscribesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subscribe_commands_total",
			Help:      "Total subscribe commands sent to the hub",
		}),
		backoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "backoff_seconds",
			Help:      "Delays waited between connection attempts",
			Buckets:   []float64{0, 1, 5, 15, 30, 60, 120, 300},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.state, m.connectAttempts, m.connectFailures, m.events,
		m.subscriptions, m.subscribesSent, m.backoff,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) attempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) failure(kind string) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) subscribeSent() {
	if m == nil {
		return
	}
	m.subscribesSent.Inc()
}

func (m *Metrics) waited(seconds float64) {
	if m == nil {
		return
	}
	m.backoff.Observe(seconds)
}
