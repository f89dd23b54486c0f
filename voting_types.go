package quorumvote

// Voting is the vote and knowledge engine of a participant for a single
// voting generation.
// It is not safe for concurrent use, callers must hold the node lock
type Voting struct {
	// self is the port of the node owning the engine
	self int

	// options is the candidate set of the generation
	options []string

	// participants are the live quorum members, self included.
	// It shrinks on disconnect
	participants map[int]struct{}

	// votes maps a voter to its choice. Entries are never overwritten
	votes map[int]string

	// voteCounter maps a choice to its tally and always sums to len(votes)
	voteCounter map[string]int

	// knowledge maps a port to the voters it is known to have learned.
	// It never shrinks
	knowledge map[int]map[int]struct{}

	// newVotes are the votes learned since the last round boundary
	newVotes map[int]string

	// round is the current gossip round, starting at 0
	round uint64
}
