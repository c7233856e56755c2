package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/chatgate/pkg/processing/tokens"
)

// Metrics contains Prometheus collectors for limiters. One Metrics may be
// shared by several limiters; series are labelled by limiter name.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	throttled       *prometheus.CounterVec
	cancelled       *prometheus.CounterVec
	waitSeconds     *prometheus.HistogramVec
	estimatedTokens *prometheus.CounterVec
	actualTokens    *prometheus.CounterVec
	usageSource     *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	inFlight        *prometheus.GaugeVec
	window          *windowCollector
}

// NewMetrics registers limiter collectors with reg under namespace.
// It panics if the collectors are already registered with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	const subsystem = "ratelimit"

	window := newWindowCollector(namespace, subsystem)
	if reg != nil {
		reg.MustRegister(window)
	}

	return &Metrics{
		window: window,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Upstream calls made through the limiter by outcome",
			},
			[]string{"limiter", "outcome"},
		),

		throttled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "throttled_total",
				Help:      "Admission waits by the ceiling that caused them",
			},
			[]string{"limiter", "limit"},
		),

		cancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "admission_cancelled_total",
				Help:      "Requests whose context ended while waiting for admission",
			},
			[]string{"limiter"},
		),

		waitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "admission_wait_seconds",
				Help:      "Time spent waiting for window capacity before admission",
				Buckets:   []float64{0, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"limiter"},
		),

		estimatedTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "estimated_tokens_total",
				Help:      "Sum of pre-call token estimates for admitted requests",
			},
			[]string{"limiter"},
		),

		actualTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "actual_tokens_total",
				Help:      "Sum of token costs recorded in the window",
			},
			[]string{"limiter"},
		),

		usageSource: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "usage_source_total",
				Help:      "Successful calls by where the actual token count came from",
			},
			[]string{"limiter", "source"},
		),

		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "degraded_usage_total",
				Help:      "Successful calls whose response reported no usage and were recorded at zero cost",
			},
			[]string{"limiter"},
		),

		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "in_flight_requests",
				Help:      "Admitted upstream calls that have not finished",
			},
			[]string{"limiter"},
		),
	}
}

func (m *Metrics) recordThrottle(limiter, limit string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(limiter, limit).Inc()
}

func (m *Metrics) recordCancelled(limiter string) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(limiter).Inc()
}

func (m *Metrics) recordAdmitted(limiter string, waited time.Duration, estimated int) {
	if m == nil {
		return
	}
	m.waitSeconds.WithLabelValues(limiter).Observe(waited.Seconds())
	m.estimatedTokens.WithLabelValues(limiter).Add(float64(estimated))
	m.inFlight.WithLabelValues(limiter).Inc()
}

func (m *Metrics) recordFinished(limiter string, err error, usage tokens.ActualUsage) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(limiter).Dec()

	if err != nil {
		m.requests.WithLabelValues(limiter, "error").Inc()
		return
	}

	m.requests.WithLabelValues(limiter, "success").Inc()
	m.usageSource.WithLabelValues(limiter, string(usage.Source)).Inc()
	if usage.Tokens > 0 {
		m.actualTokens.WithLabelValues(limiter).Add(float64(usage.Tokens))
	}
	if usage.Degraded() {
		m.degraded.WithLabelValues(limiter).Inc()
	}
}

// trackWindow reports the occupancy returned by snapshot under limiter on
// every scrape.
func (m *Metrics) trackWindow(limiter string, snapshot func() WindowSnapshot) {
	if m == nil {
		return
	}
	m.window.track(limiter, snapshot)
}

// windowCollector reads window occupancy at collection time so the gauges
// reflect expiry even when no request has arrived since.
type windowCollector struct {
	requests *prometheus.Desc
	tokens   *prometheus.Desc

	mu        sync.RWMutex
	snapshots map[string]func() WindowSnapshot
}

func newWindowCollector(namespace, subsystem string) *windowCollector {
	return &windowCollector{
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "window_requests"),
			"Requests currently recorded in the window",
			[]string{"limiter"}, nil,
		),
		tokens: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "window_tokens"),
			"Tokens currently recorded in the window",
			[]string{"limiter"}, nil,
		),
		snapshots: make(map[string]func() WindowSnapshot),
	}
}

func (c *windowCollector) track(limiter string, snapshot func() WindowSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[limiter] = snapshot
}

// Describe implements prometheus.Collector.
func (c *windowCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.tokens
}

// Collect implements prometheus.Collector.
func (c *windowCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for limiter, snapshot := range c.snapshots {
		snap := snapshot()
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.GaugeValue, float64(snap.Requests), limiter)
		ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.GaugeValue, float64(snap.Tokens), limiter)
	}
}
