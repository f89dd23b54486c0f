package quorumvote

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

var participantStates = []string{
	JoinCoordinator.String(),
	AwaitDetails.String(),
	AwaitVoteOptions.String(),
	Casting.String(),
	SendOutcome.String(),
	ParticipantVoteRestart.String(),
	ParticipantDone.String(),
}

// NewParticipant validates options and return a participant
// ready to be started
func NewParticipant(options ParticipantOptions) (*Participant, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}

	p := &Participant{
		Logger:        options.Logger,
		options:       options,
		rand:          options.Rand,
		known:         make(map[int]struct{}),
		remaining:     make(map[int]struct{}),
		outbound:      make(map[int]Conn),
		outboundPorts: make(map[Conn]int),
		inbound:       make(map[Conn]*peerLink),
		done:          make(chan struct{}),
	}
	p.metrics = newMetrics(options.Port, "participant", options.MetricsNamespacePrefix, participantStates, options.Registerer)
	p.metrics.setNodeStateGauge(p.state.String())
	return p, nil
}

// Start listens for peers and joins the coordinator.
// Peers are accepted before joining so that every participant
// is reachable once the coordinator sends the details
func (p *Participant) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.finished {
		return ErrShutdown
	}

	listener, err := p.options.Transport.Listen(p.options.Port, 0, p)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.options.DialTimeout)
	defer cancel()
	conn, err := p.options.Transport.Dial(dialCtx, p.options.CoordinatorPort, p)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("fail to join coordinator: %w", err)
	}

	p.started = true
	p.listener = listener
	p.coordinator = conn
	p.send(conn, Join{Port: p.options.Port})
	p.Logger.Info().
		Str("state", p.state.String()).
		Int("coordinator", p.options.CoordinatorPort).
		Msg("Joined coordinator")
	p.switchState(AwaitDetails)
	return nil
}

// Stop shuts the participant down. Wait will return ErrShutdown
func (p *Participant) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finish(ErrShutdown)
}

// Wait blocks until the participant is done and its links are released.
// It return nil when the run ended after the outcome was reported,
// ErrInjectedFailure after an injected crash and ErrCoordinatorLost when
// the coordinator left before the outcome was reported
func (p *Participant) Wait(ctx context.Context) error {
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	released := slices.Clone(p.released)
	err := p.err
	p.mu.Unlock()

	for _, conn := range released {
		select {
		case <-conn.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Done is closed once the participant is done
func (p *Participant) Done() <-chan struct{} {
	return p.done
}

// Status return a snapshot of the participant
func (p *Participant) Status() ParticipantStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := ParticipantStatus{
		Port:       p.options.Port,
		State:      p.state.String(),
		Generation: p.generation,
		Vote:       p.vote,
		Options:    slices.Clone(p.currentOptions),
		Peers:      sortedPorts(p.remaining),
	}
	if p.voting != nil {
		status.Round = p.voting.Round()
		status.Votes = p.voting.Votes()
	}
	if p.outcome != nil {
		outcome := *p.outcome
		status.Outcome = &outcome
	}
	return status
}

// OnData is called for every token received on any link
func (p *Participant) OnData(conn Conn, token Token) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	p.metrics.tokenReceived(token.Kind())

	if conn == p.coordinator {
		p.handleCoordinator(token)
		return
	}
	if port, ok := p.outboundPorts[conn]; ok {
		p.Logger.Debug().
			Int("peer", port).
			Str("token", Encode(token)).
			Msg("Ignoring token received on outbound link")
		return
	}

	link, ok := p.inbound[conn]
	if !ok {
		link = &peerLink{}
		p.inbound[conn] = link
	}
	p.handlePeer(conn, link, token)
}

// OnDisconnect is called once per link
func (p *Participant) OnDisconnect(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}

	if conn == p.coordinator {
		if p.outcomeSent {
			p.Logger.Info().
				Int("generation", p.generation).
				Msg("Coordinator closed the run")
			p.finish(nil)
			return
		}
		p.Logger.Error().
			Str("state", p.state.String()).
			Msg("Coordinator lost before the outcome was reported")
		p.finish(ErrCoordinatorLost)
		return
	}

	if port, ok := p.outboundPorts[conn]; ok {
		p.peerLeft(port)
		delete(p.outboundPorts, conn)
		delete(p.outbound, port)
		return
	}
	if link, ok := p.inbound[conn]; ok {
		delete(p.inbound, conn)
		if link.port != 0 {
			p.peerLeft(link.port)
		}
		return
	}
	// an outbound link may drop before it is registered
	if p.dialing {
		if p.unclaimed == nil {
			p.unclaimed = make(map[Conn]struct{})
		}
		p.unclaimed[conn] = struct{}{}
	}
}

// OnMalformed counts dropped lines
func (p *Participant) OnMalformed(conn Conn, line string, err error) {
	p.metrics.malformed()
}

func (p *Participant) handleCoordinator(token Token) {
	switch t := token.(type) {
	case Details:
		if p.voting != nil {
			p.Logger.Debug().Msg("Ignoring details, membership is unchanged")
			return
		}
		for _, port := range t.Ports {
			if port == p.options.Port {
				continue
			}
			p.known[port] = struct{}{}
			p.remaining[port] = struct{}{}
		}
		p.Logger.Info().
			Ints("peers", sortedPorts(p.known)).
			Msg("Received participant details")
		p.switchState(AwaitVoteOptions)

	case VoteOptions:
		switch p.state {
		case AwaitDetails, AwaitVoteOptions:
			p.startVoting(t.Options)
		case SendOutcome:
			p.restartVoting(t.Options)
		default:
			p.Logger.Warn().
				Str("state", p.state.String()).
				Strs("options", t.Options).
				Msg("Ignoring vote options")
		}

	default:
		p.Logger.Warn().
			Str("state", p.state.String()).
			Str("token", Encode(token)).
			Msg("Ignoring unexpected token from coordinator")
	}
}

// handlePeer attributes the token to its sender and generation.
// A peer sends exactly one direct vote per generation on its link,
// the k-th one starts generation k-1
func (p *Participant) handlePeer(conn Conn, link *peerLink, token Token) {
	if join, ok := token.(Join); ok {
		if link.port != 0 {
			p.Logger.Warn().
				Int("peer", link.port).
				Msg("Ignoring second join on peer link")
			return
		}
		link.port = join.Port
		p.Logger.Debug().
			Int("peer", link.port).
			Msg("Peer link identified")
		return
	}
	if link.port == 0 {
		p.Logger.Warn().
			Str("remoteAddr", conn.RemoteAddr()).
			Str("token", Encode(token)).
			Msg("Dropping token from unidentified peer")
		return
	}

	if vote, ok := token.(Vote); ok && vote.Port == link.port {
		link.votes++
		link.generation = link.votes - 1
	}

	switch {
	case link.generation < p.generation:
		p.Logger.Debug().
			Int("peer", link.port).
			Int("tokenGeneration", link.generation).
			Int("generation", p.generation).
			Msg("Dropping token of a previous generation")
	case p.voting == nil || p.dialing || link.generation > p.generation:
		p.pending = append(p.pending, pendingToken{source: link.port, generation: link.generation, token: token})
	default:
		p.apply(link.port, token)
		p.touchQuiescenceTimer()
		p.evaluateRound()
	}
}

// apply feeds a peer token into the engine
func (p *Participant) apply(source int, token Token) {
	switch t := token.(type) {
	case Vote:
		// a relayed batch of a single vote is decoded as a vote
		if t.Port == source {
			p.voting.CastVote(source, t.Choice)
		} else {
			p.voting.CastMultiVote(source, t.Port, t.Choice)
		}
	case MultiVote:
		t.SourcePort = source
		for _, port := range sortedPorts(t.Votes) {
			p.voting.CastMultiVote(t.SourcePort, port, t.Votes[port])
		}
	default:
		p.Logger.Warn().
			Int("peer", source).
			Str("token", Encode(token)).
			Msg("Ignoring unexpected token from peer")
	}
}

// replayPending applies buffered tokens of the current generation
// and drops the ones of older generations
func (p *Participant) replayPending() {
	var keep []pendingToken
	for _, pending := range p.pending {
		switch {
		case pending.generation == p.generation:
			p.apply(pending.source, pending.token)
		case pending.generation > p.generation:
			keep = append(keep, pending)
		}
	}
	p.pending = keep
}

// pickVote return the fixed vote when it is part of options,
// a random option otherwise
func (p *Participant) pickVote(options []string) string {
	if p.options.FixedVote != "" && slices.Contains(options, p.options.FixedVote) {
		return p.options.FixedVote
	}
	return options[p.randIntn(len(options))]
}

// startVoting runs the first generation: the own vote is cast and the
// peers are dialed without holding the node lock. Peer tokens are
// buffered until the links are registered
func (p *Participant) startVoting(options []string) {
	if len(options) == 0 {
		p.Logger.Error().Msg("Received empty vote options")
		p.finish(ErrNoOptions)
		return
	}

	p.newGeneration(options)
	p.switchState(Casting)
	p.dialing = true
	go p.dialPeers(sortedPorts(p.remaining))
}

// dialPeers opens the outbound peer links concurrently
func (p *Participant) dialPeers(ports []int) {
	conns := make([]Conn, len(ports))
	errs := make([]error, len(ports))

	var g errgroup.Group
	for i, port := range ports {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), p.options.DialTimeout)
			defer cancel()
			conns[i], errs[i] = p.options.Transport.Dial(ctx, port, p)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.peersDialed(ports, conns, errs)
}

// peersDialed registers the outbound links and broadcasts the own vote.
// It must be called with the node lock held
func (p *Participant) peersDialed(ports []int, conns []Conn, errs []error) {
	p.dialing = false
	lost := p.unclaimed
	p.unclaimed = nil

	for i, port := range ports {
		conn := conns[i]
		if errs[i] == nil {
			if _, ok := lost[conn]; ok {
				errs[i] = ErrConnClosed
			}
		}
		if p.finished {
			if conn != nil {
				p.release(conn)
			}
			continue
		}
		if _, ok := p.remaining[port]; !ok {
			if conn != nil {
				p.release(conn)
			}
			continue
		}
		if errs[i] != nil {
			p.Logger.Warn().Err(errs[i]).
				Int("peer", port).
				Msg("Fail to connect to peer, dropping it")
			if conn != nil {
				p.release(conn)
			}
			delete(p.known, port)
			delete(p.remaining, port)
			p.voting.RemoveParticipant(port)
			continue
		}
		p.outbound[port] = conn
		p.outboundPorts[conn] = port
		p.send(conn, Join{Port: p.options.Port})
	}
	if p.finished {
		return
	}

	if !p.broadcastVote() {
		return
	}
	p.replayPending()
	p.armQuiescenceTimer()
	p.evaluateRound()
}

// restartVoting runs a new generation after a tie,
// membership is unchanged
func (p *Participant) restartVoting(options []string) {
	p.switchState(ParticipantVoteRestart)
	if len(options) == 0 {
		p.Logger.Error().Msg("Received empty vote options")
		p.finish(ErrNoOptions)
		return
	}

	p.metrics.voteRestart()
	p.generation++
	p.newGeneration(options)
	p.switchState(Casting)

	if !p.broadcastVote() {
		return
	}
	p.replayPending()
	p.armQuiescenceTimer()
	p.evaluateRound()
}

// newGeneration resets the engine and casts the own vote
func (p *Participant) newGeneration(options []string) {
	p.currentOptions = slices.Clone(options)
	p.vote = p.pickVote(options)
	p.outcomeSent = false
	p.generationStart = time.Now()
	p.voting = NewVoting(p.options.Port, sortedPorts(p.remaining), options)
	p.voting.CastVote(p.options.Port, p.vote)

	p.Logger.Info().
		Str("state", p.state.String()).
		Int("generation", p.generation).
		Strs("options", options).
		Str("vote", p.vote).
		Ints("peers", sortedPorts(p.remaining)).
		Msg("Casting vote")
}

// broadcastVote sends the own vote to every live peer.
// It return false when an injected failure stopped the participant
func (p *Participant) broadcastVote() bool {
	peers := p.livePeers()
	omit := -1
	if p.options.Failure == FailDuringVoteBroadcast && len(peers) > 0 {
		omit = p.randIntn(len(peers))
	}

	for i, port := range peers {
		if i == omit {
			p.Logger.Warn().
				Int("peer", port).
				Msg("Injected failure, omitting vote to peer")
			continue
		}
		p.send(p.outbound[port], Vote{Port: p.options.Port, Choice: p.vote})
	}

	if p.options.Failure == FailDuringVoteBroadcast {
		p.crash("vote broadcast")
		return false
	}
	return true
}

// broadcastNewVotes sends the votes learned during the round to every live peer
func (p *Participant) broadcastNewVotes() {
	token := MultiVote{Votes: p.voting.NewVotes(), SourcePort: p.options.Port}
	for _, port := range p.livePeers() {
		p.send(p.outbound[port], token)
	}
}

// livePeers return the sorted live peers with an outbound link
func (p *Participant) livePeers() []int {
	var peers []int
	for _, port := range sortedPorts(p.remaining) {
		if _, ok := p.outbound[port]; ok {
			peers = append(peers, port)
		}
	}
	return peers
}

// evaluateRound ends the round once every live participant vote is known.
// The outcome is resolved when nothing new was learned or when every live
// peer is known to have learned every vote. Otherwise the new votes are
// gossiped and a new round starts
func (p *Participant) evaluateRound() {
	if p.state != Casting || p.dialing || !p.voting.RoundComplete() {
		return
	}

	if !p.voting.HasNewVotes() {
		p.resolve()
		return
	}

	if p.voting.AllPeersInformed() {
		// peers still wait for an announcement of this node
		if p.voting.Round() == 0 {
			p.broadcastNewVotes()
		}
		p.resolve()
		return
	}

	p.broadcastNewVotes()
	p.voting.NextRound()
	p.metrics.gossipRound()
	p.Logger.Debug().
		Int("generation", p.generation).
		Uint64("round", p.voting.Round()).
		Int("votes", p.voting.VoteCount()).
		Msg("Starting gossip round")
	p.armQuiescenceTimer()
}

// resolve computes the outcome and reports it to the coordinator
func (p *Participant) resolve() {
	p.stopQuiescenceTimer()
	outcome := p.voting.Outcome()
	p.outcome = &outcome
	p.metrics.timeSince("generation", p.generationStart)

	p.Logger.Info().
		Int("generation", p.generation).
		Uint64("round", p.voting.Round()).
		Str("outcome", outcomeValue(outcome)).
		Ints("voters", outcome.Voters).
		Strs("tiedOptions", outcome.TiedOptions).
		Msg("Outcome resolved")

	if p.options.Failure == FailAfterOutcomeResolution {
		p.crash("outcome resolution")
		return
	}

	p.send(p.coordinator, outcome)
	p.outcomeSent = true
	p.switchState(SendOutcome)
}

// peerLeft prunes a departed peer and re-evaluates the round
func (p *Participant) peerLeft(port int) {
	if _, ok := p.remaining[port]; !ok {
		return
	}
	delete(p.remaining, port)
	if conn, ok := p.outbound[port]; ok {
		p.release(conn)
	}
	p.Logger.Info().
		Str("state", p.state.String()).
		Int("peer", port).
		Int("remaining", len(p.remaining)).
		Msg("Peer disconnected")

	if p.voting != nil {
		p.voting.RemoveParticipant(port)
		p.touchQuiescenceTimer()
		p.evaluateRound()
	}
}

// crash stops the participant abruptly on an injected failure
func (p *Participant) crash(step string) {
	p.Logger.Warn().
		Str("failure", p.options.Failure.String()).
		Msgf("Injected failure during %s", step)
	p.finish(ErrInjectedFailure)
}

// finish closes every link and releases Wait
func (p *Participant) finish(err error) {
	if p.finished {
		return
	}
	p.finished = true
	p.err = err
	p.stopQuiescenceTimer()

	if p.listener != nil {
		if err := p.listener.Close(); err != nil {
			p.Logger.Debug().Err(err).Msg("Fail to close listener")
		}
	}
	if p.coordinator != nil {
		p.release(p.coordinator)
	}
	for _, conn := range p.outbound {
		p.release(conn)
	}
	for conn := range p.inbound {
		p.release(conn)
	}
	p.switchState(ParticipantDone)
	close(p.done)
}

// release closes conn and keeps track of it so that Wait
// can wait for queued tokens to be flushed
func (p *Participant) release(conn Conn) {
	if slices.Contains(p.released, conn) {
		return
	}
	_ = conn.Close()
	p.released = append(p.released, conn)
}

// send sends token on conn
func (p *Participant) send(conn Conn, token Token) {
	if conn == nil {
		return
	}
	if err := conn.Send(token); err != nil {
		p.Logger.Debug().Err(err).
			Str("remoteAddr", conn.RemoteAddr()).
			Str("token", Encode(token)).
			Msg("Fail to send token")
		return
	}
	p.metrics.tokenSent(token.Kind())
}

// switchState must be called with the node lock held
func (p *Participant) switchState(newState ParticipantState) {
	if p.state == newState {
		return
	}
	p.Logger.Debug().
		Str("state", newState.String()).
		Str("previousState", p.state.String()).
		Int("generation", p.generation).
		Msgf("Switching to %s", newState.String())
	p.state = newState
	p.metrics.setNodeStateGauge(newState.String())
}
