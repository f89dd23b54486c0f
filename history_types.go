package quorumvote

import (
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// dbFileName is the name of the database file
	dbFileName string = "quorumvote.db"

	// bucketHistoryName will be used to store generation conclusions
	bucketHistoryName string = "quorumvote_history"
)

// Conclusion is how a voting generation ended on the coordinator
type Conclusion string

const (
	// ConclusionWinner is a generation where all outcomes agreed on a winner
	ConclusionWinner Conclusion = "winner"

	// ConclusionTie is a generation where all outcomes reported a tie
	ConclusionTie Conclusion = "tie"

	// ConclusionDisagreement is a generation where outcomes differ
	ConclusionDisagreement Conclusion = "disagreement"

	// ConclusionNoOutcome is a generation left without participants
	ConclusionNoOutcome Conclusion = "noOutcome"
)

// HistoryEntry is the audit record of a concluded voting generation
type HistoryEntry struct {
	// RunID identifies the coordinator run
	RunID string `json:"runId"`

	// Generation is the voting generation starting at 0
	Generation int `json:"generation"`

	// Options is the candidate set of the generation
	Options []string `json:"options"`

	// Participants are the ports still remaining at the end of the generation
	Participants []int `json:"participants"`

	// Outcomes reported by participants keyed by their port
	Outcomes map[int]string `json:"outcomes"`

	// Conclusion is how the generation ended
	Conclusion Conclusion `json:"conclusion"`

	// Winner is set when Conclusion is ConclusionWinner
	Winner string `json:"winner,omitempty"`

	// Voters are the voters of the first outcome
	Voters []int `json:"voters,omitempty"`

	// TiedOptions are the options of the next generation on a tie
	TiedOptions []string `json:"tiedOptions,omitempty"`

	// Time is when the generation concluded
	Time time.Time `json:"time"`
}

// HistoryStore is an interface that allow us to store and retrieve
// generation conclusions
type HistoryStore interface {
	// Close permits to close the store
	Close() error

	// Append stores a generation conclusion
	Append(entry HistoryEntry) error

	// Get return the entry of the provided run and generation
	// or ErrNotFound
	Get(runID string, generation int) (HistoryEntry, error)

	// List return the entries of the provided run ordered by generation.
	// All entries are returned when runID is empty
	List(runID string) ([]HistoryEntry, error)
}

// MemoryHistoryStore keeps the history in memory
type MemoryHistoryStore struct {
	// mu is used to ensure lock concurrency
	mu sync.RWMutex

	// entries are kept in insertion order
	entries []HistoryEntry
}

type BoltOptions struct {
	// DataDir is the default data directory that will be used to store all data on the disk. It's required
	DataDir string

	// Options hold all bolt options
	Options *bolt.Options
}

// BoltHistoryStore keeps the history in a bolt database
type BoltHistoryStore struct {
	// dataDir is the data directory where the database is stored
	dataDir string

	// db allows us to manipulate the k/v database
	db *bolt.DB
}
