// Package metrics registers the Prometheus counters and gauges exposed
// by cmd/limed's /metrics route, mirroring the teacher's
// meshstorage/api node-stats endpoint but in the standard Prometheus
// exposition format instead of a bespoke JSON blob.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesSent counts outbound envelopes by kind ("message",
	// "notification", "command", "session").
	EnvelopesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lime",
		Name:      "envelopes_sent_total",
		Help:      "Total envelopes sent, by kind.",
	}, []string{"kind"})

	// EnvelopesReceived counts inbound envelopes by kind.
	EnvelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lime",
		Name:      "envelopes_received_total",
		Help:      "Total envelopes received, by kind.",
	}, []string{"kind"})

	// SessionsEstablished counts sessions that reached the established
	// state.
	SessionsEstablished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lime",
		Name:      "sessions_established_total",
		Help:      "Total sessions that reached the established state.",
	})

	// SessionsFailed counts sessions that reached the failed state.
	SessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lime",
		Name:      "sessions_failed_total",
		Help:      "Total sessions that reached the failed state.",
	})

	// PendingHTTPResponses tracks the current number of HTTP requests
	// awaiting a correlated command/notification response.
	PendingHTTPResponses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lime",
		Name:      "pending_http_responses",
		Help:      "HTTP requests currently awaiting a correlated response.",
	})

	// ActiveTransports tracks the current size of the per-identity
	// transport cache.
	ActiveTransports = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lime",
		Name:      "active_transports",
		Help:      "Number of identities with a live server-side transport.",
	})

	// StorageDepth tracks the number of envelopes currently queued per
	// identity in the envelope storage backend.
	StorageDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lime",
		Name:      "storage_depth",
		Help:      "Envelopes currently queued per identity.",
	}, []string{"identity"})
)
