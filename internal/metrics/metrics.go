package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Delivered *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	Dead      *prometheus.CounterVec
	Reclaimed prometheus.Counter
	InFlight  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_delivered_total",
			Help: "Outbox entries delivered successfully, by notification kind.",
		}, []string{"event_type"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_failed_total",
			Help: "Delivery attempts that failed and were requeued, by notification kind.",
		}, []string{"event_type"}),
		Dead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_dead_total",
			Help: "Outbox entries dead-lettered, by notification kind.",
		}, []string{"event_type"}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_reclaimed_total",
			Help: "Stale processing entries reclaimed after lease expiry.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifier_inflight_sends",
			Help: "Channel sends currently in flight.",
		}),
	}

	reg.MustRegister(m.Delivered, m.Failed, m.Dead, m.Reclaimed, m.InFlight)

	return m
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
