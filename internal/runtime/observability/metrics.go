// Package observability exposes the consumer's Prometheus metrics and the
// health endpoint.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/replyflow/internal/runtime/consumer"
)

// Metrics records consumer activity. Connect it to a loop with Hooks.
type Metrics struct {
	outcomes       *prometheus.CounterVec
	processing     *prometheus.HistogramVec
	reconnects     prometheus.Counter
	commitFailures prometheus.Counter
	state          prometheus.Gauge
}

// NewMetrics creates and registers the consumer collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "consumer",
			Name:      "outcomes_total",
			Help:      "Inbound messages by processing outcome",
		}, []string{"outcome"}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replyflow",
			Subsystem: "consumer",
			Name:      "processing_seconds",
			Help:      "Time from receipt to resolved outcome, dead-letter routing included",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "consumer",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after a failed connect or a lost subscription",
		}),
		commitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "consumer",
			Name:      "commit_failures_total",
			Help:      "Messages whose acknowledgement was rejected",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replyflow",
			Subsystem: "consumer",
			Name:      "state",
			Help:      "Current loop state (0 disconnected, 1 connecting, 2 polling, 3 processing, 4 committing, 5 shutting down, 6 stopped)",
		}),
	}

	for _, c := range []prometheus.Collector{m.outcomes, m.processing, m.reconnects, m.commitFailures, m.state} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	for _, o := range consumer.Outcomes() {
		m.outcomes.WithLabelValues(o.String())
	}
	return m, nil
}

// Hooks returns loop hooks feeding these metrics.
func (m *Metrics) Hooks() consumer.Hooks {
	return consumer.Hooks{
		OnStateChange: func(_, to consumer.State) {
			m.state.Set(float64(to))
		},
		OnOutcome: func(info consumer.OutcomeInfo) {
			m.outcomes.WithLabelValues(info.Outcome.String()).Inc()
			m.processing.WithLabelValues(info.Outcome.String()).Observe(info.Duration.Seconds())
		},
		OnCommitFailure: func(consumer.OutcomeInfo) {
			m.commitFailures.Inc()
		},
		OnReconnect: func(int, time.Duration, error) {
			m.reconnects.Inc()
		},
	}
}
