// Package metrics exposes prometheus collectors for turns, provider calls and history
// operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "garden"

// Outcome labels.
const (
	OK    = "ok"
	Error = "error"
)

var (
	turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by adapter and outcome.",
		},
		[]string{"adapter", "outcome"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_seconds",
			Help:      "Time until a provider reply was fully received.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"adapter", "mode", "outcome"},
	)

	fragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Fragments delivered to presenters.",
		},
		[]string{"adapter"},
	)

	historyOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_operations_total",
			Help:      "History store operations by backend, operation and outcome.",
		},
		[]string{"backend", "op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(turns)
	prometheus.MustRegister(providerLatency)
	prometheus.MustRegister(fragments)
	prometheus.MustRegister(historyOps)
}

func outcome(err error) string {
	if err != nil {
		return Error
	}
	return OK
}

// ObserveTurn counts a recorded assistant reply.
func ObserveTurn(adapter string, err error) {
	turns.WithLabelValues(adapter, outcome(err)).Inc()
}

// ObserveProvider records how long a provider took. mode is "stream" or "generate".
func ObserveProvider(adapter, mode string, started time.Time, err error) {
	providerLatency.WithLabelValues(adapter, mode, outcome(err)).Observe(time.Since(started).Seconds())
}

func ObserveFragment(adapter string) {
	fragments.WithLabelValues(adapter).Inc()
}

func ObserveHistory(backend, op string, err error) {
	historyOps.WithLabelValues(backend, op, outcome(err)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
