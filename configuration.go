package quorumvote

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/Lord-Y/quorumvote/logger"
)

// validPort return an error when port can't be used as a node id
func validPort(port int) error {
	if port <= 0 || port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}

// normalizeOptions validates options and removes duplicates
// keeping the first occurrence
func normalizeOptions(options []string) ([]string, error) {
	var normalized []string
	for _, option := range options {
		if err := validOption(option); err != nil {
			return nil, err
		}
		if !slices.Contains(normalized, option) {
			normalized = append(normalized, option)
		}
	}
	if len(normalized) == 0 {
		return nil, ErrNoOptions
	}
	return normalized, nil
}

// validate checks the options and fills the defaults
func (o *CoordinatorOptions) validate() error {
	if err := validPort(o.Port); err != nil {
		return err
	}
	if o.QuorumSize < 1 {
		return fmt.Errorf("%w: %d", ErrQuorumSize, o.QuorumSize)
	}

	options, err := normalizeOptions(o.Options)
	if err != nil {
		return err
	}
	o.Options = options

	if o.Logger == nil {
		o.Logger = logger.NewNodeLogger("coordinator", o.Port)
	}
	if o.Transport == nil {
		o.Transport = NewTCPTransport("", o.Logger)
	}
	if o.HistoryStore == nil {
		o.HistoryStore = NewMemoryHistoryStore()
	}
	return nil
}

// validate checks the options and fills the defaults
func (o *ParticipantOptions) validate() error {
	if err := validPort(o.Port); err != nil {
		return err
	}
	if err := validPort(o.CoordinatorPort); err != nil {
		return err
	}
	if o.Port == o.CoordinatorPort {
		return fmt.Errorf("%w: participant and coordinator share port %d", ErrInvalidPort, o.Port)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", o.Timeout)
	}
	if o.Failure > FailAfterOutcomeResolution {
		return fmt.Errorf("%w: %d", ErrUnknownFailureCode, o.Failure)
	}
	if o.FixedVote != "" {
		if err := validOption(o.FixedVote); err != nil {
			return err
		}
	}

	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.NewNodeLogger("participant", o.Port)
	}
	if o.Transport == nil {
		o.Transport = NewTCPTransport("", o.Logger)
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return nil
}
