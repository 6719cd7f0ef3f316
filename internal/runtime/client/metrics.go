package client

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "jobflow"

// jobMetrics holds the Prometheus collectors of a client. A nil *jobMetrics
// records nothing.
type jobMetrics struct {
	activated *prometheus.CounterVec
	settled   *prometheus.CounterVec
	released  *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

func newJobMetrics(reg prometheus.Registerer) (*jobMetrics, error) {
	m := &jobMetrics{
		activated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_activated_total",
			Help:      "Jobs handed to a handler.",
		}, []string{"topic"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_settled_total",
			Help:      "Jobs completed or failed by a handler, by result status.",
		}, []string{"topic", "status"}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_released_total",
			Help:      "Jobs given back to the queue or dropped without a handler result.",
		}, []string{"topic", "reason"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently held by handlers.",
		}, []string{"topic"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_handler_duration_seconds",
			Help:      "Time spent in job handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}

	for _, c := range []prometheus.Collector{m.activated, m.settled, m.released, m.inFlight, m.duration} {
		if err := register(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// register tolerates collectors already registered by another client on the
// same registerer.
func register(reg prometheus.Registerer, c prometheus.Collector) error {
	err := reg.Register(c)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// decorateTransport adds the Watermill publisher and subscriber metrics.
func decorateTransport(reg prometheus.Registerer, pub message.Publisher, sub message.Subscriber) (message.Publisher, message.Subscriber, error) {
	builder := metrics.NewPrometheusMetricsBuilder(reg, metricsNamespace, "transport")

	decoratedPub, err := builder.DecoratePublisher(pub)
	if err != nil {
		return nil, nil, err
	}
	decoratedSub, err := builder.DecorateSubscriber(sub)
	if err != nil {
		return nil, nil, err
	}
	return decoratedPub, decoratedSub, nil
}

func (m *jobMetrics) jobActivated(topic string) {
	if m == nil {
		return
	}
	m.activated.WithLabelValues(topic).Inc()
	m.inFlight.WithLabelValues(topic).Inc()
}

func (m *jobMetrics) jobFinished(topic string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(topic).Dec()
	m.duration.WithLabelValues(topic).Observe(elapsed.Seconds())
}

func (m *jobMetrics) jobSettled(topic, status string) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(topic, status).Inc()
}

func (m *jobMetrics) jobReleased(topic, reason string) {
	if m == nil {
		return
	}
	m.released.WithLabelValues(topic, reason).Inc()
}
