package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the gateway. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	HubConnected        prometheus.Gauge
	HubCommands         *prometheus.CounterVec
	PendingCalls        prometheus.Gauge
	CallOutcomes        *prometheus.CounterVec
	SpeechRequests      *prometheus.CounterVec
	SpeechLatency       *prometheus.HistogramVec
	StoredNotifications prometheus.Gauge

	latency *latencyWindow
	gather  prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg uses the default
// registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gather := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gather = g
	}
	f := promauto.With(reg)
	return &Metrics{
		HubConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_connected",
			Help:      "1 while a hub connection is active.",
		}),
		HubCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_commands_total",
			Help:      "Hub commands by command and result.",
		}, []string{"command", "result"}),
		PendingCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_calls",
			Help:      "Calls waiting for their companion connection.",
		}),
		CallOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Finished calls by final state.",
		}, []string{"state"}),
		SpeechRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_requests_total",
			Help:      "Speech backend requests by operation and result.",
		}, []string{"op", "result"}),
		SpeechLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_latency_ms",
			Help:      "Speech backend latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		}, []string{"op"}),
		StoredNotifications: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_notifications",
			Help:      "Persistent notifications held for replay.",
		}),
		latency: newLatencyWindow(256),
		gather:  gather,
	}
}

func (m *Metrics) SetHubConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.HubConnected.Set(1)
		return
	}
	m.HubConnected.Set(0)
}

func (m *Metrics) ObserveHubCommand(command, result string) {
	if m == nil {
		return
	}
	m.HubCommands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) SetPendingCalls(n int) {
	if m == nil {
		return
	}
	m.PendingCalls.Set(float64(n))
}

func (m *Metrics) ObserveCallOutcome(state string) {
	if m == nil {
		return
	}
	m.CallOutcomes.WithLabelValues(state).Inc()
}

// ObserveSpeech records one backend request. Failed requests count toward
// the request counter and the failure indicators only.
func (m *Metrics) ObserveSpeech(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SpeechRequests.WithLabelValues(op, "error").Inc()
		m.latency.ObserveFailure(op)
		return
	}
	m.SpeechRequests.WithLabelValues(op, "ok").Inc()
	ms := float64(d.Milliseconds())
	m.SpeechLatency.WithLabelValues(op).Observe(ms)
	m.latency.Observe(op, ms)
}

func (m *Metrics) SetStoredNotifications(n int) {
	if m == nil {
		return
	}
	m.StoredNotifications.Set(float64(n))
}

// LatencySnapshot summarizes the most recent speech latencies per operation.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latency.Snapshot()
}

// Handler serves the registry m was created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gather, promhttp.HandlerOpts{})
}
