// Package metrics instruments the Gateway's own process: channel
// throughput, provider quota usage, and dispatcher queue depth, exposed on
// a /metrics endpoint alongside the loopback control plane. This is the
// instrumentation half of the same dependency the teacher uses only as a
// query client against an external Prometheus server; here the process
// being measured is this one, not a remote one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/gauge the Gateway exposes. A nil
// *Registry is never handed out; Handler() is always safe to mount.
type Registry struct {
	ChannelFramesSent  *prometheus.CounterVec
	ChannelFramesRecv  *prometheus.CounterVec
	ProviderRequests   *prometheus.CounterVec
	ProviderQuotaUsed  *prometheus.GaugeVec
	DispatchQueueDepth prometheus.Gauge

	registry *prometheus.Registry
}

// New registers a fresh set of collectors against a dedicated registry
// (not the global DefaultRegisterer), so tests can build more than one
// Registry in the same process without a duplicate-registration panic.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		ChannelFramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openclaw",
			Subsystem: "channel",
			Name:      "frames_sent_total",
			Help:      "Action Dispatch Channel frames sent to an agent, by frame type.",
		}, []string{"frame_type"}),
		ChannelFramesRecv: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openclaw",
			Subsystem: "channel",
			Name:      "frames_received_total",
			Help:      "Action Dispatch Channel frames received from an agent, by frame type.",
		}, []string{"frame_type"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openclaw",
			Subsystem: "llm",
			Name:      "provider_requests_total",
			Help:      "Chat requests dispatched per provider, by outcome.",
		}, []string{"provider", "outcome"}),
		ProviderQuotaUsed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "openclaw",
			Subsystem: "llm",
			Name:      "provider_quota_used",
			Help:      "Requests used against a provider's daily quota for the current UTC date.",
		}, []string{"provider"}),
		DispatchQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "openclaw",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Actions awaiting an agent's acknowledgement on the dispatch API.",
		}),
	}
	r.registry = reg
	return r
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
