// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a connection leaves the table.
const (
	closeReasonDisconnect = "disconnect"
	closeReasonProtocol   = "protocol"
	closeReasonOrphan     = "orphan"
	closeReasonShutdown   = "shutdown"
	closeReasonReload     = "reload"
)

// Metrics holds the daemon's counters. They live in a private registry
// and are exposed by writing a Prometheus textfile after each
// self-check, so the daemon never serves HTTP or runs extra goroutines.
type Metrics struct {
	registry *prometheus.Registry
	path     string

	ConnectionsAccepted prometheus.Counter
	ConnectionsClosed   *prometheus.CounterVec
	ConnectionsOpen     prometheus.Gauge
	Messages            *prometheus.CounterVec
	ProtocolErrors      prometheus.Counter
	Reloads             prometheus.Counter
	SelfChecks          *prometheus.CounterVec
}

// NewMetrics creates the counters. When path is empty WriteTextfile is
// a no-op.
func NewMetrics(path string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		path:     path,
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "skylightd_connections_accepted_total",
			Help: "Agent connections accepted.",
		}),
		ConnectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skylightd_connections_closed_total",
			Help: "Agent connections closed, by reason.",
		}, []string{"reason"}),
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "skylightd_connections_open",
			Help: "Agent connections currently open.",
		}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skylightd_messages_total",
			Help: "Messages received from agents, by kind.",
		}, []string{"kind"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "skylightd_protocol_errors_total",
			Help: "Connections dropped for malformed frames.",
		}),
		Reloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "skylightd_reloads_total",
			Help: "Re-exec attempts triggered by a newer agent.",
		}),
		SelfChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skylightd_self_checks_total",
			Help: "Lockfile and socket file verifications, by result.",
		}, []string{"result"}),
	}
}

// Registry exposes the registry, for tests and for embedding callers
// that want to serve it themselves.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile atomically writes the current values in the Prometheus
// text format to the configured path.
func (m *Metrics) WriteTextfile() error {
	if m.path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.path, m.registry)
}
