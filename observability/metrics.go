package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	anchorTransitions *prometheus.CounterVec
	remindersEmitted  *prometheus.CounterVec
	guardRejections   *prometheus.CounterVec
	sweepUsers        *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	priceFetches      *prometheus.CounterVec
}

// NewMetrics registers every collector in a private registry, so tests can
// build as many as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		anchorTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zakati_anchor_transitions_total",
				Help: "Zakat anchor state changes by group and new status.",
			},
			[]string{"group", "to"},
		),
		remindersEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zakati_reminders_emitted_total",
				Help: "Reminder notifications created, by group.",
			},
			[]string{"group"},
		),
		guardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zakati_guard_rejections_total",
				Help: "Ledger writes refused by validation or the balance guard.",
			},
			[]string{"operation", "reason"},
		),
		sweepUsers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zakati_sweep_users_total",
				Help: "Users evaluated by the anchor sweep, by result.",
			},
			[]string{"result"},
		),
		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zakati_sweep_duration_seconds",
				Help:    "Duration of a full anchor sweep.",
				Buckets: prometheus.DefBuckets,
			},
		),
		priceFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zakati_price_fetch_total",
				Help: "Price provider fetches by provider and result.",
			},
			[]string{"provider", "result"},
		),
	}
}

func (m *Metrics) IncrAnchorTransition(group, to string) {
	if m == nil {
		return
	}
	m.anchorTransitions.WithLabelValues(group, to).Inc()
}

func (m *Metrics) IncrReminder(group string) {
	if m == nil {
		return
	}
	m.remindersEmitted.WithLabelValues(group).Inc()
}

func (m *Metrics) IncrGuardRejection(operation, reason string) {
	if m == nil {
		return
	}
	m.guardRejections.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) IncrSweepUser(result string) {
	if m == nil {
		return
	}
	m.sweepUsers.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) IncrPriceFetch(provider, result string) {
	if m == nil {
		return
	}
	m.priceFetches.WithLabelValues(provider, result).Inc()
}
