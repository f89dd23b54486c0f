package quorumvote

import (
	"maps"
	"slices"
)

// NewVoting return a fresh engine for a generation voting on options
// among self and peers
func NewVoting(self int, peers []int, options []string) *Voting {
	v := &Voting{
		self:         self,
		options:      slices.Clone(options),
		participants: make(map[int]struct{}, len(peers)+1),
		votes:        make(map[int]string),
		voteCounter:  make(map[string]int),
		knowledge:    make(map[int]map[int]struct{}),
		newVotes:     make(map[int]string),
	}
	v.participants[self] = struct{}{}
	for _, peer := range peers {
		v.participants[peer] = struct{}{}
	}
	return v
}

// CastVote records the own vote of port
func (v *Voting) CastVote(port int, choice string) bool {
	return v.CastMultiVote(port, port, choice)
}

// CastMultiVote records that sourcePort knows the vote of votedPort.
// The first recorded choice of a voter wins, later ones only update knowledge.
// It return true when the vote was not known before
func (v *Voting) CastMultiVote(sourcePort, votedPort int, choice string) bool {
	known, ok := v.knowledge[sourcePort]
	if !ok {
		known = make(map[int]struct{})
		v.knowledge[sourcePort] = known
	}
	known[votedPort] = struct{}{}

	if _, ok := v.votes[votedPort]; ok {
		return false
	}
	v.votes[votedPort] = choice
	v.voteCounter[choice]++
	v.newVotes[votedPort] = choice
	return true
}

// Options return the candidate set of the generation
func (v *Voting) Options() []string {
	return slices.Clone(v.options)
}

// VoteCount return the number of distinct recorded votes
func (v *Voting) VoteCount() int {
	return len(v.votes)
}

// Tally return the number of votes recorded for choice
func (v *Voting) Tally(choice string) int {
	return v.voteCounter[choice]
}

// Votes return a copy of all recorded votes
func (v *Voting) Votes() map[int]string {
	return maps.Clone(v.votes)
}

// NewVotes return a copy of the votes learned during the current round
func (v *Voting) NewVotes() map[int]string {
	return maps.Clone(v.newVotes)
}

// HasNewVotes return true when votes were learned during the current round
func (v *Voting) HasNewVotes() bool {
	return len(v.newVotes) > 0
}

// NextRound clears the new votes and moves to the next gossip round
func (v *Voting) NextRound() {
	clear(v.newVotes)
	v.round++
}

// Round return the current gossip round
func (v *Voting) Round() uint64 {
	return v.round
}

// Knowledge return the sorted voters port is known to have learned
func (v *Voting) Knowledge(port int) []int {
	return sortedPorts(v.knowledge[port])
}

// PeerKnowsAll return true when port is known to have learned every recorded vote
func (v *Voting) PeerKnowsAll(port int) bool {
	known := v.knowledge[port]
	for voter := range v.votes {
		if _, ok := known[voter]; !ok {
			return false
		}
	}
	return true
}

// AllPeersInformed return true when every live peer is known
// to have learned every recorded vote
func (v *Voting) AllPeersInformed() bool {
	for port := range v.participants {
		if port != v.self && !v.PeerKnowsAll(port) {
			return false
		}
	}
	return true
}

// RemoveParticipant removes port from the live participants.
// Its recorded vote and knowledge are kept
func (v *Voting) RemoveParticipant(port int) {
	if port == v.self {
		return
	}
	delete(v.participants, port)
}

// Participants return the sorted live participants, self included
func (v *Voting) Participants() []int {
	return sortedPorts(v.participants)
}

// HasVotesFrom return true when every port has a recorded vote
func (v *Voting) HasVotesFrom(ports ...int) bool {
	for _, port := range ports {
		if _, ok := v.votes[port]; !ok {
			return false
		}
	}
	return true
}

// RoundComplete return true when every live participant vote has been recorded
func (v *Voting) RoundComplete() bool {
	for port := range v.participants {
		if _, ok := v.votes[port]; !ok {
			return false
		}
	}
	return true
}

// Voters return the sorted ports with a recorded vote
func (v *Voting) Voters() []int {
	return sortedPorts(v.votes)
}

// majorityThreshold is the minimal tally of a strict majority
func (v *Voting) majorityThreshold() int {
	return len(v.votes)/2 + 1
}

// GetWinningVotes return the choices holding the highest tally when that
// tally reaches a strict majority of recorded votes.
// Otherwise majority is false and the candidate set without its
// lowest tallied option is returned
func (v *Voting) GetWinningVotes() (choices []string, majority bool) {
	highest := 0
	for _, count := range v.voteCounter {
		highest = max(highest, count)
	}

	if highest < v.majorityThreshold() {
		return v.eliminateLowest(), false
	}

	for _, choice := range v.candidates() {
		if v.voteCounter[choice] == highest {
			choices = append(choices, choice)
		}
	}
	return choices, true
}

// Outcome resolves the generation.
// More than one choice at the majority threshold cannot happen with
// a strict majority and would be reported as a tie
func (v *Voting) Outcome() Outcome {
	choices, majority := v.GetWinningVotes()
	if majority && len(choices) == 1 {
		return Outcome{Winner: choices[0], Voters: v.Voters()}
	}
	if majority {
		return Outcome{TiedOptions: v.eliminateLowest()}
	}
	return Outcome{TiedOptions: choices}
}

// candidates return the options of the generation followed by
// the voted choices outside of it in lexicographic order
func (v *Voting) candidates() []string {
	candidates := slices.Clone(v.options)
	var extra []string
	for choice := range v.voteCounter {
		if !slices.Contains(candidates, choice) {
			extra = append(extra, choice)
		}
	}
	slices.Sort(extra)
	return append(candidates, extra...)
}

// eliminateLowest drops the lowest tallied candidate, zero tallies included.
// Among equally low candidates the lexicographically greatest is dropped.
// Remaining candidates keep their order
func (v *Voting) eliminateLowest() []string {
	candidates := v.candidates()
	if len(candidates) == 0 {
		return nil
	}

	drop := 0
	for i, choice := range candidates {
		count, lowest := v.voteCounter[choice], v.voteCounter[candidates[drop]]
		if count < lowest || (count == lowest && choice > candidates[drop]) {
			drop = i
		}
	}

	remaining := slices.Delete(candidates, drop, drop+1)
	if len(remaining) == 0 {
		return nil
	}
	return remaining
}
