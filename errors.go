package quorumvote

import "errors"

var (
	ErrMalformedToken      = errors.New("malformed token")
	ErrConnectFailure      = errors.New("fail to connect to peer")
	ErrConnClosed          = errors.New("connection closed")
	ErrOutcomeDisagreement = errors.New("participants disagree on the outcome")
	ErrInjectedFailure     = errors.New("injected failure")
	ErrNoOutcome           = errors.New("no outcome received")
	ErrNoOptions           = errors.New("no vote options left")
	ErrCoordinatorLost     = errors.New("coordinator disconnected before an outcome was sent")
	ErrShutdown            = errors.New("node is shutting down")
	ErrInvalidOption       = errors.New("invalid vote option")
	ErrQuorumSize          = errors.New("quorum size must be greater than 0")
	ErrInvalidPort         = errors.New("invalid port")
	ErrUnknownFailureCode  = errors.New("unknown failure code")
	ErrDataDirRequired     = errors.New("data dir required")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyStarted      = errors.New("node already started")
)
