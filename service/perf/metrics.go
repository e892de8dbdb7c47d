// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsSubSystemSFU    = "sfu"
	metricsSubSystemRTC    = "rtc"
	metricsSubSystemSignal = "signal"
)

type Metrics struct {
	registry *prometheus.Registry

	Sessions prometheus.Gauge
	Peers    prometheus.Gauge
	Routers  *prometheus.GaugeVec

	RTPPacketCounters        *prometheus.CounterVec
	RTPPacketBytesCounters   *prometheus.CounterVec
	RTPDroppedPacketCounters *prometheus.CounterVec
	RTCConnStateCounters     *prometheus.CounterVec
	RTCErrorCounters         *prometheus.CounterVec

	SignalConnections          prometheus.Gauge
	SignalMessageCounters      *prometheus.CounterVec
	SignalDroppedEventCounters *prometheus.CounterVec
}

func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	var m Metrics

	if registry != nil {
		m.registry = registry
	} else {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: namespace,
		}))
		m.registry.MustRegister(collectors.NewGoCollector())
	}

	m.Sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemSFU,
			Name:      "sessions_total",
			Help:      "Total number of active sessions",
		},
	)
	m.registry.MustRegister(m.Sessions)

	m.Peers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemSFU,
			Name:      "peers_total",
			Help:      "Total number of active peers",
		},
	)
	m.registry.MustRegister(m.Peers)

	m.Routers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemSFU,
			Name:      "routers_total",
			Help:      "Total number of active track routers",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.Routers)

	m.RTPPacketCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "rtp_packets_total",
			Help:      "Total number of sent/received RTP packets",
		},
		[]string{"direction", "type"},
	)
	m.registry.MustRegister(m.RTPPacketCounters)

	m.RTPPacketBytesCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "rtp_bytes_total",
			Help:      "Total number of sent/received RTP packet bytes",
		},
		[]string{"direction", "type"},
	)
	m.registry.MustRegister(m.RTPPacketBytesCounters)

	m.RTPDroppedPacketCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "rtp_dropped_packets_total",
			Help:      "Total number of RTP packets dropped because a subscriber was lagging",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.RTPDroppedPacketCounters)

	m.RTCConnStateCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "conn_states_total",
			Help:      "Total number of RTC connection state changes",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.RTCConnStateCounters)

	m.RTCErrorCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRTC,
			Name:      "errors_total",
			Help:      "Total number of RTC errors",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.RTCErrorCounters)

	m.SignalConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemSignal,
			Name:      "connections_total",
			Help:      "Total number of active signaling connections",
		},
	)
	m.registry.MustRegister(m.SignalConnections)

	m.SignalMessageCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemSignal,
			Name:      "messages_total",
			Help:      "Total number of sent/received signaling messages",
		},
		[]string{"method", "direction"},
	)
	m.registry.MustRegister(m.SignalMessageCounters)

	m.SignalDroppedEventCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemSignal,
			Name:      "dropped_events_total",
			Help:      "Total number of signaling events dropped because the destination was full",
		},
		[]string{"type"},
	)
	m.registry.MustRegister(m.SignalDroppedEventCounters)

	return &m
}

func (m *Metrics) IncSessions() {
	m.Sessions.Inc()
}

func (m *Metrics) DecSessions() {
	m.Sessions.Dec()
}

func (m *Metrics) IncPeers() {
	m.Peers.Inc()
}

func (m *Metrics) DecPeers() {
	m.Peers.Dec()
}

func (m *Metrics) IncRouters(trackType string) {
	m.Routers.With(prometheus.Labels{"type": trackType}).Inc()
}

func (m *Metrics) DecRouters(trackType string) {
	m.Routers.With(prometheus.Labels{"type": trackType}).Dec()
}

func (m *Metrics) IncRTCConnState(state string) {
	m.RTCConnStateCounters.With(prometheus.Labels{"type": state}).Inc()
}

func (m *Metrics) IncRTPPackets(direction, trackType string) {
	m.RTPPacketCounters.With(prometheus.Labels{"direction": direction, "type": trackType}).Inc()
}

func (m *Metrics) AddRTPPacketBytes(direction, trackType string, value int) {
	m.RTPPacketBytesCounters.With(prometheus.Labels{"direction": direction, "type": trackType}).Add(float64(value))
}

func (m *Metrics) IncRTPDroppedPackets(trackType string) {
	m.RTPDroppedPacketCounters.With(prometheus.Labels{"type": trackType}).Inc()
}

func (m *Metrics) IncRTCErrors(errType string) {
	m.RTCErrorCounters.With(prometheus.Labels{"type": errType}).Inc()
}

func (m *Metrics) IncSignalConnections() {
	m.SignalConnections.Inc()
}

func (m *Metrics) DecSignalConnections() {
	m.SignalConnections.Dec()
}

func (m *Metrics) IncSignalMessages(method, direction string) {
	m.SignalMessageCounters.With(prometheus.Labels{"method": method, "direction": direction}).Inc()
}

func (m *Metrics) IncSignalDroppedEvents(evType string) {
	m.SignalDroppedEventCounters.With(prometheus.Labels{"type": evType}).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
