package quorumvote

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	// defaultDialTimeout is the maximum time spent dialing another node
	defaultDialTimeout = 5 * time.Second
)

// CoordinatorOptions hold the configuration of a coordinator
type CoordinatorOptions struct {
	// Port is the listening port of the coordinator
	Port int

	// QuorumSize is the number of participants that must join
	// before voting begins
	QuorumSize int

	// Options is the initial candidate set.
	// Options must be non empty, without whitespace and can't be `null`.
	// Duplicates are removed keeping the first occurrence
	Options []string

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// Transport is used to accept participants.
	// Default to TCPTransport on 127.0.0.1
	Transport Transport

	// HistoryStore keeps every generation conclusion.
	// Default to MemoryHistoryStore
	HistoryStore HistoryStore

	// Registerer is where metrics are registered.
	// A private registry is used when nil
	Registerer prometheus.Registerer

	// MetricsNamespacePrefix is the namespace to use for all metrics.
	// When set, the full metric name will be `<MetricsNamespacePrefix>_coordinator_<metric_name>`.
	// Otherwise it will be `coordinator_<metric_name>`
	MetricsNamespacePrefix string
}

// ParticipantOptions hold the configuration of a participant
type ParticipantOptions struct {
	// CoordinatorPort is the port of the coordinator to join
	CoordinatorPort int

	// Port is the listening port for peers, also the node id
	Port int

	// Timeout is the quiescence deadline of the voting phase.
	// When no token nor disconnect is processed within it, the outcome is
	// resolved with the votes known so far. 0 disables it
	Timeout time.Duration

	// DialTimeout is the maximum time spent dialing another node.
	// Default to 5s
	DialTimeout time.Duration

	// Failure is the failure to inject on purpose
	Failure FailureMode

	// FixedVote is used as own vote while it is part of the
	// current candidate set. A random option is picked otherwise
	FixedVote string

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// Transport is used to reach the coordinator and the peers.
	// Default to TCPTransport on 127.0.0.1
	Transport Transport

	// Registerer is where metrics are registered.
	// A private registry is used when nil
	Registerer prometheus.Registerer

	// MetricsNamespacePrefix is the namespace to use for all metrics.
	// When set, the full metric name will be `<MetricsNamespacePrefix>_participant_<metric_name>`.
	// Otherwise it will be `participant_<metric_name>`
	MetricsNamespacePrefix string

	// Rand is used to pick votes and the peer skipped by an injected failure.
	// Default to a time seeded source
	Rand *rand.Rand
}
