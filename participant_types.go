package quorumvote

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/rs/zerolog"
)

// Participant is a voting node of the quorum
type Participant struct {
	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// options hold the validated configuration
	options ParticipantOptions

	// metrics is used to expose the participant metrics
	metrics *metrics

	// rand is used to pick votes
	rand *rand.Rand

	// randMu serializes access to rand
	randMu sync.Mutex

	// mu is the node wide critical section
	mu deadlock.Mutex

	// state is the current participant state
	state ParticipantState

	// started is set once Start succeeded
	started bool

	// finished is set once the participant is done
	finished bool

	// listener accepts peer links
	listener io.Closer

	// coordinator is the link to the coordinator
	coordinator Conn

	// known are the peers announced by the coordinator
	known map[int]struct{}

	// remaining are the peers still considered live
	remaining map[int]struct{}

	// outbound maps a peer to the link this node dialed.
	// Votes are only sent on outbound links
	outbound map[int]Conn

	// outboundPorts maps an outbound link to its peer
	outboundPorts map[Conn]int

	// inbound are the links peers dialed to this node.
	// Votes are only received on inbound links
	inbound map[Conn]*peerLink

	// released are the links closed by this node
	released []Conn

	// dialing is true while the outbound peer links are being opened
	dialing bool

	// unclaimed are the links that dropped while dialing
	unclaimed map[Conn]struct{}

	// voting is the engine of the current generation,
	// nil until the first candidate set is received
	voting *Voting

	// currentOptions is the candidate set of the current generation
	currentOptions []string

	// vote is the own choice of the current generation
	vote string

	// generation is the current voting generation starting at 0
	generation int

	// generationStart is when the current generation started
	generationStart time.Time

	// pending are peer tokens of a generation not started yet
	pending []pendingToken

	// outcome is the last resolved outcome
	outcome *Outcome

	// outcomeSent is set once the outcome of the current generation was sent
	outcomeSent bool

	// timer is the quiescence deadline of the voting phase
	timer *time.Timer

	// timerSeq discards stale timer callbacks
	timerSeq uint64

	// err is returned by Wait
	err error

	// done is closed once the participant is done
	done chan struct{}
}

// peerLink tracks an inbound peer link
type peerLink struct {
	// port is the peer on the other side, 0 until it sent JOIN
	port int

	// votes is the number of direct votes received on the link
	votes int

	// generation is the generation of the tokens currently sent on the link.
	// Each direct vote starts a new generation
	generation int
}

// pendingToken is a peer token buffered until its generation starts
type pendingToken struct {
	source     int
	generation int
	token      Token
}

// ParticipantStatus is a snapshot of the participant
type ParticipantStatus struct {
	Port       int            `json:"port"`
	State      string         `json:"state"`
	Generation int            `json:"generation"`
	Round      uint64         `json:"round"`
	Vote       string         `json:"vote"`
	Options    []string       `json:"options"`
	Peers      []int          `json:"peers"`
	Votes      map[int]string `json:"votes"`
	Outcome    *Outcome       `json:"outcome,omitempty"`
}
