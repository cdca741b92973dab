package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seatdesk/seatdesk/internal/domain"
	"github.com/seatdesk/seatdesk/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	Redemptions       *prometheus.CounterVec
	InvitesDispatched *prometheus.CounterVec
	ProviderCalls     *prometheus.CounterVec
	BatchSize         prometheus.Histogram
	CyclePanics       prometheus.Counter
}

// New registers all instruments with the given registerer. queueDepth is
// sampled on every scrape.
func New(reg prometheus.Registerer, queueDepth func() int) *Metrics {
	m := &Metrics{
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Redemption attempts on the request path, by outcome.",
		}, []string{"outcome"}),

		InvitesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invites_dispatched_total",
			Help: "Queue items that reached a terminal state, by status and failure kind.",
		}, []string{"status", "failure_kind"}),

		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Calls to the provisioning API, by mode (bulk or single) and result.",
		}, []string{"mode", "result"}),

		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_batch_size",
			Help:    "Number of items collected per dispatch cycle.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),

		CyclePanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_cycle_panics_total",
			Help: "Dispatch cycles aborted by a recovered panic.",
		}),
	}

	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "invite_queue_depth",
		Help: "Current number of items waiting in the invite queue.",
	}, func() float64 { return float64(queueDepth()) })

	reg.MustRegister(
		m.Redemptions,
		m.InvitesDispatched,
		m.ProviderCalls,
		m.BatchSize,
		m.CyclePanics,
		depth,
	)

	return m
}

// DispatcherHooks returns the callbacks expected by worker.MetricHooks.
func (m *Metrics) DispatcherHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnOutcome: func(status domain.Status, kind domain.FailureKind) {
			m.InvitesDispatched.WithLabelValues(string(status), string(kind)).Inc()
		},
		OnProviderCall: func(mode string, err error) {
			result := "ok"
			if err != nil {
				result = string(domain.KindOf(err))
			}
			m.ProviderCalls.WithLabelValues(mode, result).Inc()
		},
		OnBatch: func(size int) {
			m.BatchSize.Observe(float64(size))
		},
		OnPanic: m.CyclePanics.Inc,
	}
}

// ObserveRedemption records the outcome of one redeem request.
func (m *Metrics) ObserveRedemption(outcome string) {
	m.Redemptions.WithLabelValues(outcome).Inc()
}
