// Package metrics exposes bridge counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all bridge metrics, registered on their own registry so
// multiple instances (tests, embedded use) never collide.
type Metrics struct {
	registry *prometheus.Registry

	ActiveCalls    prometheus.Gauge
	CallsStarted   prometheus.Counter
	CallsCompleted prometheus.Counter

	CallerFramesRelayed prometheus.Counter
	AgentFramesRelayed  prometheus.Counter
	FramesDropped       prometheus.Counter
	TranslateErrors     prometheus.Counter

	AgentSetupFailures prometheus.Counter

	TranscriptUploads        prometheus.Counter
	TranscriptUploadFailures prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sambung_active_calls",
			Help: "Current number of bridged calls",
		}),
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_calls_started_total",
			Help: "Total telephony streams accepted",
		}),
		CallsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_calls_completed_total",
			Help: "Total calls torn down",
		}),
		CallerFramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_caller_frames_relayed_total",
			Help: "Caller audio frames forwarded to the agent socket",
		}),
		AgentFramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_agent_frames_relayed_total",
			Help: "Agent audio frames forwarded to the telephony socket",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_frames_dropped_total",
			Help: "Frames dropped by bounded buffering",
		}),
		TranslateErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_translate_errors_total",
			Help: "Frames that failed to parse or decode",
		}),
		AgentSetupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_agent_setup_failures_total",
			Help: "Agent-side setup attempts that failed or timed out",
		}),
		TranscriptUploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_transcript_uploads_total",
			Help: "Transcript artifacts uploaded",
		}),
		TranscriptUploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sambung_transcript_upload_failures_total",
			Help: "Transcript artifact uploads that failed",
		}),
	}
}

// Handler serves the metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
