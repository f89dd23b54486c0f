package quorumvote

import (
	"fmt"
	"strconv"
)

// CoordinatorState represent the current status of the coordinator
type CoordinatorState uint32

const (
	// WaitingForParticipants state is waiting for the quorum to join
	WaitingForParticipants CoordinatorState = iota

	// SendingDetails state sends to every participant the ports of the others
	SendingDetails

	// SendingVotingOptions state broadcasts the candidate set
	SendingVotingOptions

	// WaitingForOutcome state collects the outcomes of the remaining participants
	WaitingForOutcome

	// CoordinatorVoteRestart state restarts the vote with the tied options
	CoordinatorVoteRestart

	// CoordinatorDone state is latched once the run concluded,
	// later outcomes are ignored
	CoordinatorDone
)

// String return a human readable state of the coordinator
func (s CoordinatorState) String() string {
	switch s {
	case WaitingForParticipants:
		return "waitingForParticipants"
	case SendingDetails:
		return "sendingDetails"
	case SendingVotingOptions:
		return "sendingVotingOptions"
	case WaitingForOutcome:
		return "waitingForOutcome"
	case CoordinatorVoteRestart:
		return "voteRestart"
	case CoordinatorDone:
		return "done"
	}
	return "unknown"
}

// ParticipantState represent the current status of a participant
type ParticipantState uint32

const (
	// JoinCoordinator state opens the coordinator link and joins
	JoinCoordinator ParticipantState = iota

	// AwaitDetails state waits for the ports of the other participants
	AwaitDetails

	// AwaitVoteOptions state waits for the candidate set
	AwaitVoteOptions

	// Casting state casts votes and runs gossip rounds
	Casting

	// SendOutcome state reported its outcome and waits for
	// a restart or the end of the run
	SendOutcome

	// ParticipantVoteRestart state resets the engine for a new generation
	ParticipantVoteRestart

	// ParticipantDone state is terminal
	ParticipantDone
)

// String return a human readable state of the participant
func (s ParticipantState) String() string {
	switch s {
	case JoinCoordinator:
		return "joinCoordinator"
	case AwaitDetails:
		return "awaitDetails"
	case AwaitVoteOptions:
		return "awaitVoteOptions"
	case Casting:
		return "voting"
	case SendOutcome:
		return "sendOutcome"
	case ParticipantVoteRestart:
		return "voteRestart"
	case ParticipantDone:
		return "done"
	}
	return "unknown"
}

// FailureMode is the failure a participant injects on purpose
type FailureMode uint8

const (
	// NoFailure runs the protocol normally
	NoFailure FailureMode = iota

	// FailDuringVoteBroadcast omits the vote to one random peer
	// and then crashes
	FailDuringVoteBroadcast

	// FailAfterOutcomeResolution crashes once the outcome is resolved
	// instead of sending it
	FailAfterOutcomeResolution
)

// String return a human readable failure mode
func (f FailureMode) String() string {
	switch f {
	case NoFailure:
		return "none"
	case FailDuringVoteBroadcast:
		return "duringVoteBroadcast"
	case FailAfterOutcomeResolution:
		return "afterOutcomeResolution"
	}
	return "unknown"
}

// ParseFailureMode converts the numeric failure code
func ParseFailureMode(code string) (FailureMode, error) {
	value, err := strconv.Atoi(code)
	if err != nil {
		return NoFailure, fmt.Errorf("%w: %q", ErrUnknownFailureCode, code)
	}
	if value < 0 || value > int(FailAfterOutcomeResolution) {
		return NoFailure, fmt.Errorf("%w: %d", ErrUnknownFailureCode, value)
	}
	return FailureMode(value), nil
}
