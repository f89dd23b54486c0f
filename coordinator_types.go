package quorumvote

import (
	"io"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/rs/zerolog"
)

// Coordinator is the rendezvous node of a run.
// It learns the participants, sends them membership details
// and the candidate set, then cross checks their outcomes
type Coordinator struct {
	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// options hold the validated configuration
	options CoordinatorOptions

	// runID identifies the run in the history
	runID string

	// metrics is used to expose the coordinator metrics
	metrics *metrics

	// mu is the node wide critical section
	mu deadlock.Mutex

	// state is the current coordinator state
	state CoordinatorState

	// started is set once Start succeeded
	started bool

	// listener accepts participant links
	listener io.Closer

	// ports are the joined participants in join order
	ports []int

	// conns maps a joined participant to its link
	conns map[int]Conn

	// portsByConn maps a link to its joined participant
	portsByConn map[Conn]int

	// accepted are all links ever accepted
	accepted []Conn

	// remaining are the participants still considered live
	remaining map[int]struct{}

	// currentOptions is the candidate set of the current generation
	currentOptions []string

	// generation is the current voting generation starting at 0
	generation int

	// generationStart is when the current generation options were sent
	generationStart time.Time

	// outcomes are the outcomes of the current generation keyed by port
	outcomes map[int]Outcome

	// outcomeOrder is the arrival order of outcomes
	outcomeOrder []int

	// result is set once the run concluded successfully
	result Result

	// err is set once the run concluded with a failure
	err error

	// done is closed once the run concluded
	done chan struct{}
}

// Result is the conclusion of a successful run
type Result struct {
	// Winner is the agreed winning choice
	Winner string `json:"winner"`

	// Voters are the voters reported with the winning outcome
	Voters []int `json:"voters"`

	// Generations is the number of voting generations of the run
	Generations int `json:"generations"`
}

// CoordinatorStatus is a snapshot of the coordinator
type CoordinatorStatus struct {
	RunID      string         `json:"runId"`
	Port       int            `json:"port"`
	State      string         `json:"state"`
	QuorumSize int            `json:"quorumSize"`
	Generation int            `json:"generation"`
	Options    []string       `json:"options"`
	Joined     []int          `json:"joined"`
	Remaining  []int          `json:"remaining"`
	Outcomes   map[int]string `json:"outcomes"`
	Result     *Result        `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}
