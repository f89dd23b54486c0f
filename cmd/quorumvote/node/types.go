package node

import (
	"net/http"
	"os"
	"time"

	"github.com/Lord-Y/quorumvote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Coordinator hold all required configuration to start a coordinator
type Coordinator struct {
	Logger *zerolog.Logger

	// Host is the address to use by the node
	Host string

	// Port is the port on which participants join
	Port int

	// QuorumSize is the number of participants to wait for
	QuorumSize int

	// Options are the choices participants vote for
	Options []string

	// DataDir enables the bolt history store when set
	DataDir string

	// HTTPPort to use to handle http requests, 0 disables the api
	HTTPPort int

	registry *prometheus.Registry

	coordinator *quorumvote.Coordinator

	// apiServer hold the config of the HTTP API server
	apiServer *http.Server

	quit chan os.Signal
}

// Participant hold all required configuration to start a participant
type Participant struct {
	Logger *zerolog.Logger

	// Host is the address to use by the node
	Host string

	// CoordinatorPort is the port of the coordinator to join
	CoordinatorPort int

	// Port is the port on which peers dial this node
	Port int

	// Timeout is the quiescence deadline of a gossip round
	Timeout time.Duration

	// Failure is the failure to inject
	Failure quorumvote.FailureMode

	// FixedVote is used instead of a random choice when set
	FixedVote string

	// HTTPPort to use to handle http requests, 0 disables the api
	HTTPPort int

	registry *prometheus.Registry

	participant *quorumvote.Participant

	apiServer *http.Server

	quit chan os.Signal
}

// api hold what the http handlers serve
type api struct {
	// status return the node status snapshot
	status func() any

	// history is nil on participants
	history func() ([]quorumvote.HistoryEntry, error)

	gatherer prometheus.Gatherer
}
