package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	messages    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	messages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "messages_total",
			Help:      "Inbound escrow messages by op and exit code",
		},
		[]string{"op", "exit_code"},
	)

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "transitions_total",
			Help:      "Unit status transitions",
		},
		[]string{"from", "to"},
	)

	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "delivery_seconds",
			Help:      "Message delivery latency, lock to commit",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	reg.MustRegister(messages, transitions, latency)

	return &PrometheusRecorder{
		messages:    messages,
		transitions: transitions,
		latency:     latency,
	}
}

func (p *PrometheusRecorder) MessageHandled(op string, exitCode int) {
	p.messages.With(prometheus.Labels{
		"op":        op,
		"exit_code": strconv.Itoa(exitCode),
	}).Inc()
}

func (p *PrometheusRecorder) Transition(from, to string) {
	p.transitions.With(prometheus.Labels{"from": from, "to": to}).Inc()
}

func (p *PrometheusRecorder) ObserveDelivery(source string, d time.Duration) {
	p.latency.With(prometheus.Labels{"source": source}).Observe(d.Seconds())
}
