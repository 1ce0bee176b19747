package deadletter

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks dead-letter routing per topic and error type.
type Metrics struct {
	mu sync.RWMutex

	topicCounts map[string]*TopicMetrics

	routedTotal    *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	publishSeconds *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// TopicMetrics holds the counters for a single dead-letter topic.
type TopicMetrics struct {
	MessagesRouted  uint64            `json:"messages_routed"`
	PublishFailures uint64            `json:"publish_failures"`
	ByErrorType     map[string]uint64 `json:"by_error_type"`
	LastErrorType   string            `json:"last_error_type,omitempty"`
	LastRoutedAt    time.Time         `json:"last_routed_at,omitempty"`
}

// Snapshot is a point-in-time copy of all topic metrics.
type Snapshot struct {
	TotalRouted   uint64                   `json:"total_routed"`
	TotalFailures uint64                   `json:"total_failures"`
	Topics        map[string]*TopicMetrics `json:"topics"`
	CollectedAt   time.Time                `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates a collector. A nil registerer means the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		topicCounts:   make(map[string]*TopicMetrics),
		registerer:    registerer,
		routedTotal:   newCounterVec("messages_total", "Total number of events routed to the dead letter topic", []string{"topic", "error_type"}),
		failuresTotal: newCounterVec("publish_failures_total", "Total number of dead letters that could not be published", []string{"topic", "error_type"}),
		publishSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "replyflow",
				Subsystem: "dlq",
				Name:      "publish_seconds",
				Help:      "Time spent publishing a dead letter, including failed attempts",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"topic"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []prometheus.Collector{m.routedTotal, m.failuresTotal, m.publishSeconds} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordRouted records a dead letter that reached the topic.
func (m *Metrics) RecordRouted(topic, errorType string, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.topicMetrics(topic)
	metrics.MessagesRouted++
	metrics.ByErrorType[errorType]++
	metrics.LastErrorType = errorType
	metrics.LastRoutedAt = time.Now()

	m.routedTotal.WithLabelValues(topic, errorType).Inc()
	m.publishSeconds.WithLabelValues(topic).Observe(took.Seconds())
}

// RecordFailure records a dead letter that was lost.
func (m *Metrics) RecordFailure(topic, errorType string, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.topicMetrics(topic)
	metrics.PublishFailures++
	metrics.LastErrorType = errorType

	m.failuresTotal.WithLabelValues(topic, errorType).Inc()
	m.publishSeconds.WithLabelValues(topic).Observe(took.Seconds())
}

// GetSnapshot returns a copy of all topic metrics.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := Snapshot{
		Topics:      make(map[string]*TopicMetrics, len(m.topicCounts)),
		CollectedAt: time.Now(),
	}
	for topic, metrics := range m.topicCounts {
		snapshot.Topics[topic] = metrics.clone()
		snapshot.TotalRouted += metrics.MessagesRouted
		snapshot.TotalFailures += metrics.PublishFailures
	}
	return snapshot
}

// GetTopicMetrics returns a copy of the metrics for topic, or nil.
func (m *Metrics) GetTopicMetrics(topic string) *TopicMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.topicCounts[topic]; ok {
		return metrics.clone()
	}
	return nil
}

// Reset clears all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topicCounts = make(map[string]*TopicMetrics)
	m.routedTotal.Reset()
	m.failuresTotal.Reset()
	m.publishSeconds.Reset()
}

func (m *Metrics) topicMetrics(topic string) *TopicMetrics {
	if metrics, ok := m.topicCounts[topic]; ok {
		return metrics
	}
	metrics := &TopicMetrics{ByErrorType: make(map[string]uint64)}
	m.topicCounts[topic] = metrics
	return metrics
}

func (t *TopicMetrics) clone() *TopicMetrics {
	out := *t
	out.ByErrorType = make(map[string]uint64, len(t.ByErrorType))
	for k, v := range t.ByErrorType {
		out.ByErrorType[k] = v
	}
	return &out
}
