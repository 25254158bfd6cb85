package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnode_network_messages_received_total",
		Help: "Messages decoded from peers, by command",
	}, []string{"command"})

	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnode_network_messages_sent_total",
		Help: "Messages written to peers, by command",
	}, []string{"command"})

	dispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnode_network_dispatch_total",
		Help: "Dispatch results, by command and whether a handler claimed the message",
	}, []string{"command", "outcome"})

	wireErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnode_network_wire_errors_total",
		Help: "Framing, checksum and payload decode errors",
	}, []string{"kind"})

	connectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xnode_network_peers",
		Help: "Number of connected peers",
	})
)
