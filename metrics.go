// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Inbound message outcomes.
const (
	resultDelivered    = "delivered"
	resultUnauthorized = "unauthorized"
	resultRateLimited  = "rate_limited"
)

// Outbound send modes.
const (
	modeTargeted  = "targeted"
	modeBroadcast = "broadcast"
	modeExcept    = "broadcast_except"
	modeAnnounce  = "announce"
)

type metrics struct {
	inbound   *prometheus.CounterVec
	outbound  *prometheus.CounterVec
	failed    *prometheus.CounterVec
	connected prometheus.Gauge
}

// newMetrics returns nil when reg is nil; every method is nil-safe.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netevent",
			Subsystem: "server",
			Name:      "inbound_total",
			Help:      "Inbound client messages by admission result",
		}, []string{"result"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netevent",
			Subsystem: "server",
			Name:      "outbound_total",
			Help:      "Outbound sends issued by the server",
		}, []string{"mode"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netevent",
			Subsystem: "server",
			Name:      "outbound_failures_total",
			Help:      "Outbound sends the transport refused",
		}, []string{"mode"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netevent",
			Subsystem: "server",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
	}
	for _, c := range []prometheus.Collector{m.inbound, m.outbound, m.failed, m.connected} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) inboundResult(result string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(result).Inc()
}

func (m *metrics) sent(mode string, err error) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(mode).Inc()
	if err != nil {
		m.failed.WithLabelValues(mode).Inc()
	}
}

func (m *metrics) setConnected(n int) {
	if m == nil {
		return
	}
	m.connected.Set(float64(n))
}
