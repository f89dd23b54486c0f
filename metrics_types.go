package quorumvote

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds Prometheus metrics for monitoring a node
type metrics struct {
	// id is the node port used as a label for the metrics
	id string

	// states are all the human readable states of the node role
	states []string

	// state is a gauge that indicates the current node state
	state *prometheus.GaugeVec

	// tokensSent is a counter of tokens sent by kind
	tokensSent *prometheus.CounterVec

	// tokensReceived is a counter of tokens received by kind
	tokensReceived *prometheus.CounterVec

	// malformedTokens is a counter of dropped lines
	malformedTokens *prometheus.CounterVec

	// gossipRounds is a counter of gossip rounds announced by the node
	gossipRounds *prometheus.CounterVec

	// voteRestarts is a counter of voting generations restarted after a tie
	voteRestarts *prometheus.CounterVec

	// generationDuration is an histogram that indicates how much time a voting generation took
	generationDuration *prometheus.HistogramVec
}
