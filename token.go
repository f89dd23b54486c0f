package quorumvote

// TokenKind identifies the variant of a Token
type TokenKind uint8

const (
	// KindJoin is sent by a participant to announce itself
	KindJoin TokenKind = iota

	// KindDetails is sent by the coordinator with the ports of the other participants
	KindDetails

	// KindVoteOptions is sent by the coordinator with the candidate set
	KindVoteOptions

	// KindVote is the first round vote of a participant
	KindVote

	// KindMultiVote is a gossip batch relayed by a participant
	KindMultiVote

	// KindOutcome is the outcome resolved by a participant
	KindOutcome
)

// String return a human readable token kind
func (k TokenKind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindDetails:
		return "details"
	case KindVoteOptions:
		return "voteOptions"
	case KindVote:
		return "vote"
	case KindMultiVote:
		return "multiVote"
	case KindOutcome:
		return "outcome"
	}
	return "unknown"
}

// Token is a protocol message exchanged between nodes.
// The set of variants is closed: Join, Details, VoteOptions,
// Vote, MultiVote and Outcome
type Token interface {
	// Kind return the variant of the token
	Kind() TokenKind

	isToken()
}

// Join is sent by a participant to the coordinator to announce itself.
// Participants also send it as the first line on every peer link
// so the acceptor knows who is on the other side
type Join struct {
	// Port is the listening port of the participant, also its node id
	Port int
}

// Details is sent by the coordinator to a participant and
// holds the ports of all other participants
type Details struct {
	// Ports of the other participants, never including the receiver
	Ports []int
}

// VoteOptions is the candidate set of the current generation
type VoteOptions struct {
	Options []string
}

// Vote is the own vote of a participant
type Vote struct {
	// Port is the voter
	Port int

	// Choice is the voted option
	Choice string
}

// MultiVote is a gossip batch holding the votes currently known by the relayer
type MultiVote struct {
	// Votes maps a voter port to its choice
	Votes map[int]string

	// SourcePort is the relayer. It is not carried on the wire and is
	// filled from the connection that delivered the token
	SourcePort int
}

// Outcome is the outcome resolved by a participant.
// When Winner is empty, no majority was reached and TiedOptions
// holds the candidate set for the next generation
type Outcome struct {
	// Winner is the winning choice, empty on a tie
	Winner string

	// Voters are the ports whose votes were taken into account
	Voters []int

	// TiedOptions are the remaining options after elimination
	TiedOptions []string
}

// IsTie return true when the outcome has no winner
func (o Outcome) IsTie() bool {
	return o.Winner == ""
}

func (Join) Kind() TokenKind        { return KindJoin }
func (Details) Kind() TokenKind     { return KindDetails }
func (VoteOptions) Kind() TokenKind { return KindVoteOptions }
func (Vote) Kind() TokenKind        { return KindVote }
func (MultiVote) Kind() TokenKind   { return KindMultiVote }
func (Outcome) Kind() TokenKind     { return KindOutcome }

func (Join) isToken()        {}
func (Details) isToken()     {}
func (VoteOptions) isToken() {}
func (Vote) isToken()        {}
func (MultiVote) isToken()   {}
func (Outcome) isToken()     {}

func (t Join) String() string        { return Encode(t) }
func (t Details) String() string     { return Encode(t) }
func (t VoteOptions) String() string { return Encode(t) }
func (t Vote) String() string        { return Encode(t) }
func (t MultiVote) String() string   { return Encode(t) }
func (t Outcome) String() string     { return Encode(t) }
