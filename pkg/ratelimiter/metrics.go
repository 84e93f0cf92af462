package ratelimiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder observes admission-control events for metrics export. A small
// interface plus a no-op implementation keeps instrumentation entirely
// optional.
type Recorder interface {
	// ObserveIssued records a ticket issuance for limiterName. waited
	// reports whether the caller had to block before the ticket was
	// granted (as opposed to issuing immediately).
	ObserveIssued(limiterName string, waited bool)

	// ObserveRateLimited records an upstream throttle reported against
	// limiterName.
	ObserveRateLimited(limiterName string)

	// SetPaused records limiterName's current paused state.
	SetPaused(limiterName string, paused bool)

	// SetProbeInterval records the current backoff interval, in
	// seconds, of limiterName's pending probe.
	SetProbeInterval(limiterName string, seconds int64)
}

// NoopRecorder discards every observation. It is the default Recorder for
// a Limiter that isn't given one explicitly.
type NoopRecorder struct{}

func (NoopRecorder) ObserveIssued(string, bool)     {}
func (NoopRecorder) ObserveRateLimited(string)      {}
func (NoopRecorder) SetPaused(string, bool)         {}
func (NoopRecorder) SetProbeInterval(string, int64) {}

// PrometheusRecorder publishes admission-control events as Prometheus
// metrics, using promauto-constructed CounterVec/GaugeVec collectors keyed
// by limiter name.
type PrometheusRecorder struct {
	issuedTotal      *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
	pausedGauge      *prometheus.GaugeVec
	probeInterval    *prometheus.GaugeVec
}

// NewPrometheusRecorder constructs a PrometheusRecorder and registers its
// collectors with reg. Pass prometheus.DefaultRegisterer to use the global
// registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		issuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratellmiter",
			Name:      "tickets_issued_total",
			Help:      "Total tickets issued, labeled by limiter and whether the caller had to wait.",
		}, []string{"limiter", "waited"}),
		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratellmiter",
			Name:      "rate_limited_total",
			Help:      "Total upstream throttle reports, labeled by limiter.",
		}, []string{"limiter"}),
		pausedGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ratellmiter",
			Name:      "paused",
			Help:      "1 if the limiter currently has issuance suppressed due to upstream throttle, else 0.",
		}, []string{"limiter"}),
		probeInterval: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ratellmiter",
			Name:      "probe_interval_seconds",
			Help:      "Current backoff interval of a paused limiter's resume probe.",
		}, []string{"limiter"}),
	}
}

func (r *PrometheusRecorder) ObserveIssued(limiterName string, waited bool) {
	label := "false"
	if waited {
		label = "true"
	}
	r.issuedTotal.WithLabelValues(limiterName, label).Inc()
}

func (r *PrometheusRecorder) ObserveRateLimited(limiterName string) {
	r.rateLimitedTotal.WithLabelValues(limiterName).Inc()
}

func (r *PrometheusRecorder) SetPaused(limiterName string, paused bool) {
	v := 0.0
	if paused {
		v = 1.0
	}
	r.pausedGauge.WithLabelValues(limiterName).Set(v)
}

func (r *PrometheusRecorder) SetProbeInterval(limiterName string, seconds int64) {
	r.probeInterval.WithLabelValues(limiterName).Set(float64(seconds))
}
