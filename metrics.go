package authority

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeAllowed = "allowed"
	outcomeDenied  = "denied"
	outcomeError   = "error"
)

type metrics struct {
	decisions *prometheus.CounterVec
	resolve   prometheus.Histogram
}

// newMetrics returns nil when reg is nil; a nil *metrics records nothing.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authority_decisions_total",
			Help: "Access decisions by outcome.",
		}, []string{"outcome"}),
		resolve: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authority_resolve_duration_seconds",
			Help:    "Time spent resolving a user's permissions.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.decisions, m.resolve} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *metrics) observeResolve(start time.Time) {
	if m == nil {
		return
	}
	m.resolve.Observe(time.Since(start).Seconds())
}
