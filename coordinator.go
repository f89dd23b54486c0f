package quorumvote

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

var coordinatorStates = []string{
	WaitingForParticipants.String(),
	SendingDetails.String(),
	SendingVotingOptions.String(),
	WaitingForOutcome.String(),
	CoordinatorVoteRestart.String(),
	CoordinatorDone.String(),
}

// NewCoordinator validates options and return a coordinator
// ready to be started
func NewCoordinator(options CoordinatorOptions) (*Coordinator, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		Logger:         options.Logger,
		options:        options,
		runID:          uuid.NewString(),
		conns:          make(map[int]Conn),
		portsByConn:    make(map[Conn]int),
		remaining:      make(map[int]struct{}),
		currentOptions: slices.Clone(options.Options),
		outcomes:       make(map[int]Outcome),
		done:           make(chan struct{}),
	}
	c.metrics = newMetrics(options.Port, "coordinator", options.MetricsNamespacePrefix, coordinatorStates, options.Registerer)
	c.metrics.setNodeStateGauge(c.state.String())
	return c, nil
}

// RunID return the identifier of the run
func (c *Coordinator) RunID() string {
	return c.runID
}

// Start begins accepting participants
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	listener, err := c.options.Transport.Listen(c.options.Port, c.options.QuorumSize, c)
	if err != nil {
		return err
	}
	c.listener = listener
	c.started = true

	c.Logger.Info().
		Str("runId", c.runID).
		Str("state", c.state.String()).
		Int("quorumSize", c.options.QuorumSize).
		Strs("options", c.currentOptions).
		Msg("Coordinator started, waiting for participants")
	return nil
}

// Stop ends the run. Wait will return ErrShutdown
// if the run did not conclude before
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conclude(Result{}, ErrShutdown)
}

// Wait blocks until the run concluded or ctx is done
func (c *Coordinator) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Done is closed once the run concluded
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// History return the generation conclusions of the run
func (c *Coordinator) History() ([]HistoryEntry, error) {
	return c.options.HistoryStore.List(c.runID)
}

// Status return a snapshot of the coordinator
func (c *Coordinator) Status() CoordinatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := CoordinatorStatus{
		RunID:      c.runID,
		Port:       c.options.Port,
		State:      c.state.String(),
		QuorumSize: c.options.QuorumSize,
		Generation: c.generation,
		Options:    slices.Clone(c.currentOptions),
		Joined:     slices.Clone(c.ports),
		Remaining:  sortedPorts(c.remaining),
		Outcomes:   make(map[int]string, len(c.outcomes)),
	}
	for port, outcome := range c.outcomes {
		status.Outcomes[port] = outcomeValue(outcome)
	}
	if c.state == CoordinatorDone {
		if c.err != nil {
			status.Error = c.err.Error()
		} else {
			result := c.result
			status.Result = &result
		}
	}
	return status
}

// outcomeValue return the wire value of the outcome field
func outcomeValue(outcome Outcome) string {
	if outcome.IsTie() {
		return tieOutcome
	}
	return outcome.Winner
}

// OnData is called for every token sent by a participant
func (c *Coordinator) OnData(conn Conn, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.tokenReceived(token.Kind())
	switch t := token.(type) {
	case Join:
		c.handleJoin(conn, t)
	case Outcome:
		c.handleOutcome(conn, t)
	default:
		c.Logger.Warn().
			Str("state", c.state.String()).
			Str("remoteAddr", conn.RemoteAddr()).
			Str("token", Encode(token)).
			Msg("Ignoring unexpected token")
	}
}

// OnDisconnect is called once per participant link
func (c *Coordinator) OnDisconnect(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	port, ok := c.portsByConn[conn]
	if !ok {
		return
	}
	delete(c.portsByConn, conn)
	delete(c.conns, port)

	switch c.state {
	case CoordinatorDone:
		return

	case WaitingForParticipants:
		c.ports = slices.DeleteFunc(c.ports, func(p int) bool { return p == port })
		delete(c.remaining, port)
		c.Logger.Info().
			Str("state", c.state.String()).
			Int("peer", port).
			Int("joined", len(c.ports)).
			Msg("Participant left before quorum")
		return
	}

	delete(c.remaining, port)
	c.Logger.Info().
		Str("state", c.state.String()).
		Int("peer", port).
		Int("remaining", len(c.remaining)).
		Msg("Participant disconnected")
	c.checkCompletion()
}

// OnMalformed counts dropped lines
func (c *Coordinator) OnMalformed(conn Conn, line string, err error) {
	c.metrics.malformed()
}

func (c *Coordinator) handleJoin(conn Conn, join Join) {
	if c.state != WaitingForParticipants {
		c.Logger.Warn().
			Str("state", c.state.String()).
			Int("peer", join.Port).
			Msg("Ignoring join, quorum already reached")
		return
	}
	if _, ok := c.conns[join.Port]; ok {
		c.Logger.Warn().
			Int("peer", join.Port).
			Msg("Ignoring duplicated join")
		return
	}
	if _, ok := c.portsByConn[conn]; ok {
		c.Logger.Warn().
			Int("peer", join.Port).
			Str("remoteAddr", conn.RemoteAddr()).
			Msg("Ignoring second join on the same link")
		return
	}

	c.ports = append(c.ports, join.Port)
	c.conns[join.Port] = conn
	c.portsByConn[conn] = join.Port
	c.accepted = append(c.accepted, conn)
	c.remaining[join.Port] = struct{}{}
	c.Logger.Info().
		Str("state", c.state.String()).
		Int("peer", join.Port).
		Int("joined", len(c.ports)).
		Int("quorumSize", c.options.QuorumSize).
		Msg("Participant joined")

	if len(c.ports) == c.options.QuorumSize {
		c.sendDetails()
		c.sendVotingOptions()
	}
}

// sendDetails sends to every participant the ports of all the others
func (c *Coordinator) sendDetails() {
	c.switchState(SendingDetails)
	for _, port := range c.ports {
		others := make([]int, 0, len(c.ports)-1)
		for _, other := range c.ports {
			if other != port {
				others = append(others, other)
			}
		}
		c.send(port, Details{Ports: others})
	}
}

// sendVotingOptions broadcasts the candidate set of the generation
func (c *Coordinator) sendVotingOptions() {
	c.switchState(SendingVotingOptions)
	c.generationStart = time.Now()
	for _, port := range sortedPorts(c.remaining) {
		c.send(port, VoteOptions{Options: slices.Clone(c.currentOptions)})
	}
	c.switchState(WaitingForOutcome)
	c.checkCompletion()
}

func (c *Coordinator) handleOutcome(conn Conn, outcome Outcome) {
	port, ok := c.portsByConn[conn]
	if !ok {
		c.Logger.Warn().
			Str("remoteAddr", conn.RemoteAddr()).
			Msg("Ignoring outcome from unknown participant")
		return
	}
	if c.state != WaitingForOutcome {
		c.Logger.Debug().
			Str("state", c.state.String()).
			Int("peer", port).
			Msg("Ignoring late outcome")
		return
	}
	if _, ok := c.outcomes[port]; ok {
		c.Logger.Warn().
			Int("peer", port).
			Int("generation", c.generation).
			Msg("Ignoring second outcome")
		return
	}

	c.outcomes[port] = outcome
	c.outcomeOrder = append(c.outcomeOrder, port)
	c.Logger.Info().
		Str("state", c.state.String()).
		Int("peer", port).
		Int("generation", c.generation).
		Str("outcome", outcomeValue(outcome)).
		Int("outcomes", len(c.outcomes)).
		Int("remaining", len(c.remaining)).
		Msg("Outcome received")
	c.checkCompletion()
}

// checkCompletion concludes the generation once every remaining
// participant reported its outcome
func (c *Coordinator) checkCompletion() {
	if c.state != WaitingForOutcome {
		return
	}
	for port := range c.remaining {
		if _, ok := c.outcomes[port]; !ok {
			return
		}
	}
	c.metrics.timeSince("generation", c.generationStart)

	if len(c.outcomeOrder) == 0 {
		c.record(ConclusionNoOutcome, Outcome{})
		c.conclude(Result{}, ErrNoOutcome)
		return
	}

	first := c.outcomes[c.outcomeOrder[0]]
	for _, port := range c.outcomeOrder[1:] {
		if outcome := c.outcomes[port]; outcome.Winner != first.Winner {
			c.Logger.Error().
				Int("generation", c.generation).
				Str("expected", outcomeValue(first)).
				Str("got", outcomeValue(outcome)).
				Int("peer", port).
				Msg("Participants disagree on the outcome")
			c.record(ConclusionDisagreement, first)
			c.conclude(Result{}, ErrOutcomeDisagreement)
			return
		}
	}

	if first.IsTie() {
		c.record(ConclusionTie, first)
		c.restart(first.TiedOptions)
		return
	}

	c.record(ConclusionWinner, first)
	c.conclude(Result{
		Winner:      first.Winner,
		Voters:      slices.Clone(first.Voters),
		Generations: c.generation + 1,
	}, nil)
}

// restart starts a new generation with the tied options
func (c *Coordinator) restart(options []string) {
	c.switchState(CoordinatorVoteRestart)
	if len(options) == 0 {
		c.conclude(Result{}, ErrNoOptions)
		return
	}
	if len(c.remaining) == 0 {
		c.conclude(Result{}, ErrNoOutcome)
		return
	}

	c.metrics.voteRestart()
	c.generation++
	c.currentOptions = slices.Clone(options)
	clear(c.outcomes)
	c.outcomeOrder = nil
	c.Logger.Info().
		Int("generation", c.generation).
		Strs("options", c.currentOptions).
		Msg("Tie reported, restarting the vote")
	c.sendVotingOptions()
}

// record appends the generation conclusion to the history
func (c *Coordinator) record(conclusion Conclusion, first Outcome) {
	entry := HistoryEntry{
		RunID:        c.runID,
		Generation:   c.generation,
		Options:      slices.Clone(c.currentOptions),
		Participants: sortedPorts(c.remaining),
		Outcomes:     make(map[int]string, len(c.outcomes)),
		Conclusion:   conclusion,
		Time:         time.Now().UTC(),
	}
	for port, outcome := range c.outcomes {
		entry.Outcomes[port] = outcomeValue(outcome)
	}
	switch conclusion {
	case ConclusionWinner:
		entry.Winner = first.Winner
		entry.Voters = slices.Clone(first.Voters)
	case ConclusionTie:
		entry.TiedOptions = slices.Clone(first.TiedOptions)
	}

	if err := c.options.HistoryStore.Append(entry); err != nil {
		c.Logger.Error().Err(err).
			Int("generation", c.generation).
			Msg("Fail to append history entry")
	}
}

// conclude latches the coordinator to done and closes every link
func (c *Coordinator) conclude(result Result, err error) {
	if c.state == CoordinatorDone {
		return
	}
	c.result, c.err = result, err
	c.switchState(CoordinatorDone)

	if c.listener != nil {
		if err := c.listener.Close(); err != nil {
			c.Logger.Debug().Err(err).Msg("Fail to close listener")
		}
	}
	for _, conn := range c.accepted {
		_ = conn.Close()
	}

	event := c.Logger.Info()
	if err != nil {
		event = c.Logger.Error().Err(err)
	}
	event.
		Str("runId", c.runID).
		Int("generations", c.generation+1).
		Str("winner", result.Winner).
		Ints("voters", result.Voters).
		Msg("Run concluded")
	close(c.done)
}

// send sends token to the joined participant
func (c *Coordinator) send(port int, token Token) {
	conn, ok := c.conns[port]
	if !ok {
		return
	}
	if err := conn.Send(token); err != nil {
		c.Logger.Debug().Err(err).
			Int("peer", port).
			Str("token", Encode(token)).
			Msg("Fail to send token")
		return
	}
	c.metrics.tokenSent(token.Kind())
}

// switchState must be called with the node lock held
func (c *Coordinator) switchState(newState CoordinatorState) {
	if c.state == newState {
		return
	}
	c.Logger.Debug().
		Str("state", newState.String()).
		Str("previousState", c.state.String()).
		Int("generation", c.generation).
		Msgf("Switching to %s", newState.String())
	c.state = newState
	c.metrics.setNodeStateGauge(newState.String())
}
