package quorumvote

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newMetrics initialize Prometheus metrics for monitoring node.
// subsystem is the role of the node and states all its possible states.
// A private registry is used when registerer is nil
func newMetrics(port int, subsystem, namespace string, states []string, registerer prometheus.Registerer) *metrics {
	z := &metrics{
		id:     strconv.Itoa(port),
		states: states,
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "state",
				Help:      "Indicates current node state",
			},
			[]string{"node_id", "state"},
		),
		tokensSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tokens_sent_total",
				Help:      "Indicates how many tokens were sent by kind",
			},
			[]string{"node_id", "kind"},
		),
		tokensReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tokens_received_total",
				Help:      "Indicates how many tokens were received by kind",
			},
			[]string{"node_id", "kind"},
		),
		malformedTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "malformed_tokens_total",
				Help:      "Indicates how many malformed lines were dropped",
			},
			[]string{"node_id"},
		),
		gossipRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gossip_rounds_total",
				Help:      "Indicates how many gossip rounds were announced",
			},
			[]string{"node_id"},
		),
		voteRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "vote_restarts_total",
				Help:      "Indicates how many times the vote restarted after a tie",
			},
			[]string{"node_id"},
		),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_duration_seconds",
			Help:      "Indicates how much time it took to resolve a voting generation",
		},
			[]string{"node_id"},
		),
	}

	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	// Make sure to register them all, otherwise, no metrics will be found
	registerer.MustRegister(z.state)
	registerer.MustRegister(z.tokensSent)
	registerer.MustRegister(z.tokensReceived)
	registerer.MustRegister(z.malformedTokens)
	registerer.MustRegister(z.gossipRounds)
	registerer.MustRegister(z.voteRestarts)
	registerer.MustRegister(z.generationDuration)

	return z
}

// setNodeStateGauge will set the current node gauge state with the provided value
func (m *metrics) setNodeStateGauge(current string) {
	// Always reset the default values
	for _, state := range m.states {
		m.state.With(prometheus.Labels{"node_id": m.id, "state": state}).Set(0)
	}
	m.state.With(prometheus.Labels{"node_id": m.id, "state": current}).Set(1)
}

func (m *metrics) tokenSent(kind TokenKind) {
	m.tokensSent.With(prometheus.Labels{"node_id": m.id, "kind": kind.String()}).Inc()
}

func (m *metrics) tokenReceived(kind TokenKind) {
	m.tokensReceived.With(prometheus.Labels{"node_id": m.id, "kind": kind.String()}).Inc()
}

func (m *metrics) malformed() {
	m.malformedTokens.With(prometheus.Labels{"node_id": m.id}).Inc()
}

func (m *metrics) gossipRound() {
	m.gossipRounds.With(prometheus.Labels{"node_id": m.id}).Inc()
}

func (m *metrics) voteRestart() {
	m.voteRestarts.With(prometheus.Labels{"node_id": m.id}).Inc()
}

// timeSince will set an histogram showing how much time it took to perform the provided operation
func (m *metrics) timeSince(operation string, start time.Time) {
	elapsed := float64(time.Since(start)) / float64(time.Second)
	switch operation {
	case "generation":
		m.generationDuration.With(prometheus.Labels{"node_id": m.id}).Observe(elapsed)
	}
}
