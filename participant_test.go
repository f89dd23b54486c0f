package quorumvote

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testCoordinatorPort int = 12345
	testParticipantPort int = 20001
)

func basicParticipantSetup(t *testing.T, options ParticipantOptions, refused ...int) (*Participant, *fakeTransport) {
	transport := newFakeTransport(refused...)
	options.CoordinatorPort = testCoordinatorPort
	options.Port = testParticipantPort
	options.Transport = transport
	if options.Rand == nil {
		options.Rand = rand.New(rand.NewSource(1))
	}

	p, err := NewParticipant(options)
	assert.Nil(t, err)
	assert.Nil(t, p.Start(context.Background()))
	return p, transport
}

// inboundPeer opens an identified inbound link from port
func inboundPeer(p *Participant, port int) *fakeConn {
	conn := newFakeConn(fmt.Sprintf("peer:%d", port))
	p.OnData(conn, Join{Port: port})
	return conn
}

// voteOptions delivers the options and waits for the peer links to be registered
func voteOptions(t *testing.T, p *Participant, coordinator Conn, options ...string) {
	t.Helper()
	p.OnData(coordinator, VoteOptions{Options: options})
	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return !p.dialing
	}, 5*time.Second, time.Millisecond)
}

func waitParticipant(t *testing.T, p *Participant) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestParticipant_start(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{})
	assert.Equal([]Token{Join{Port: testParticipantPort}}, transport.conn(testCoordinatorPort).tokens())
	assert.Equal(AwaitDetails.String(), p.Status().State)
	assert.ErrorIs(p.Start(context.Background()), ErrAlreadyStarted)

	_, err := NewParticipant(ParticipantOptions{Port: 1, CoordinatorPort: 1})
	assert.ErrorIs(err, ErrInvalidPort)

	refused := newFakeTransport(testCoordinatorPort)
	other, err := NewParticipant(ParticipantOptions{Port: 20002, CoordinatorPort: testCoordinatorPort, Transport: refused})
	assert.Nil(err)
	assert.ErrorIs(other.Start(context.Background()), ErrConnectFailure)
	assert.True(refused.listener.closed)
}

func TestParticipant_vote(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A"})
	coordinator := transport.conn(testCoordinatorPort)

	p.OnData(coordinator, Details{Ports: []int{20002, 20003}})
	assert.Equal(AwaitVoteOptions.String(), p.Status().State)
	voteOptions(t, p, coordinator, "A", "B")
	assert.Equal(Casting.String(), p.Status().State)

	for _, port := range []int{20002, 20003} {
		assert.Equal([]Token{
			Join{Port: testParticipantPort},
			Vote{Port: testParticipantPort, Choice: "A"},
		}, transport.conn(port).tokens())
	}

	peer2 := inboundPeer(p, 20002)
	peer3 := inboundPeer(p, 20003)
	p.OnData(peer2, Vote{Port: 20002, Choice: "A"})
	assert.Equal(Casting.String(), p.Status().State)

	p.OnData(peer3, Vote{Port: 20003, Choice: "B"})
	all := map[int]string{testParticipantPort: "A", 20002: "A", 20003: "B"}
	status := p.Status()
	assert.Equal(uint64(1), status.Round)
	assert.Equal(all, status.Votes)
	for _, port := range []int{20002, 20003} {
		tokens := transport.conn(port).tokens()
		assert.Equal(MultiVote{Votes: all, SourcePort: testParticipantPort}, tokens[len(tokens)-1])
	}

	p.OnData(peer2, MultiVote{Votes: all})
	status = p.Status()
	assert.Equal(SendOutcome.String(), status.State)
	outcome := Outcome{Winner: "A", Voters: []int{testParticipantPort, 20002, 20003}}
	assert.Equal(&outcome, status.Outcome)
	tokens := coordinator.tokens()
	assert.Equal(outcome, tokens[len(tokens)-1])

	_ = coordinator.Close()
	p.OnDisconnect(coordinator)
	assert.Nil(waitParticipant(t, p))
	assert.Equal(ParticipantDone.String(), p.Status().State)
	assert.True(transport.listener.closed)
	assert.True(transport.conn(20002).isClosed())
	assert.True(peer3.isClosed())
}

func TestParticipant_earlyPeerVotes(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "B"})
	coordinator := transport.conn(testCoordinatorPort)

	// a peer may vote before the local details and options are processed
	peer2 := inboundPeer(p, 20002)
	p.OnData(peer2, Vote{Port: 20002, Choice: "B"})
	p.OnData(peer2, MultiVote{Votes: map[int]string{20002: "B", testParticipantPort: "B"}})

	p.OnData(coordinator, Details{Ports: []int{20002}})
	voteOptions(t, p, coordinator, "A", "B")

	status := p.Status()
	assert.Equal(SendOutcome.String(), status.State)
	assert.Equal(&Outcome{Winner: "B", Voters: []int{testParticipantPort, 20002}}, status.Outcome)

	// peers informed at round 0 still get an announcement
	tokens := transport.conn(20002).tokens()
	assert.Equal(MultiVote{Votes: map[int]string{testParticipantPort: "B", 20002: "B"}, SourcePort: testParticipantPort}, tokens[len(tokens)-1])
}

func TestParticipant_unidentifiedPeer(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A"})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002}})
	voteOptions(t, p, coordinator, "A")

	anonymous := newFakeConn("anonymous")
	p.OnData(anonymous, Vote{Port: 20002, Choice: "A"})
	assert.Equal(map[int]string{testParticipantPort: "A"}, p.Status().Votes)

	// tokens on outbound links are ignored
	p.OnData(transport.conn(20002), Vote{Port: 20002, Choice: "A"})
	assert.Equal(map[int]string{testParticipantPort: "A"}, p.Status().Votes)

	// anonymous links leaving do not prune peers
	p.OnDisconnect(anonymous)
	assert.Equal([]int{20002}, p.Status().Peers)
}

func TestParticipant_connectFailure(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A"}, 20003)
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002, 20003}})
	voteOptions(t, p, coordinator, "A", "B")
	assert.Equal([]int{20002}, p.Status().Peers)

	peer2 := inboundPeer(p, 20002)
	p.OnData(peer2, Vote{Port: 20002, Choice: "B"})
	p.OnData(peer2, MultiVote{Votes: map[int]string{testParticipantPort: "A", 20002: "B"}})

	status := p.Status()
	assert.Equal(SendOutcome.String(), status.State)
	assert.True(status.Outcome.IsTie())
	assert.Equal([]string{"A"}, status.Outcome.TiedOptions)
}

func TestParticipant_peerDisconnect(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A"})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002, 20003}})
	voteOptions(t, p, coordinator, "A", "B")

	peer2 := inboundPeer(p, 20002)
	p.OnData(peer2, Vote{Port: 20002, Choice: "A"})

	// the departure of the last unaccounted peer completes the round
	p.OnDisconnect(transport.conn(20003))
	status := p.Status()
	assert.Equal([]int{20002}, status.Peers)
	assert.Equal(uint64(1), status.Round)
	assert.True(transport.conn(20003).isClosed())

	p.OnData(peer2, MultiVote{Votes: map[int]string{testParticipantPort: "A", 20002: "A"}})
	status = p.Status()
	assert.Equal(SendOutcome.String(), status.State)
	assert.Equal(&Outcome{Winner: "A", Voters: []int{testParticipantPort, 20002}}, status.Outcome)
}

func TestParticipant_relayedVotes(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A"})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002, 20003}})
	voteOptions(t, p, coordinator, "A", "B")

	peer2 := inboundPeer(p, 20002)
	p.OnData(peer2, Vote{Port: 20002, Choice: "B"})
	// a single relayed vote of 20003 decodes as a vote
	p.OnData(peer2, Vote{Port: 20003, Choice: "B"})

	status := p.Status()
	assert.Equal(map[int]string{testParticipantPort: "A", 20002: "B", 20003: "B"}, status.Votes)
	assert.Equal(uint64(1), status.Round)
	assert.Equal(Casting.String(), status.State)
}

func TestParticipant_restart(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "B"})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002}})
	voteOptions(t, p, coordinator, "A", "B")

	peer2 := inboundPeer(p, 20002)
	p.OnData(peer2, Vote{Port: 20002, Choice: "A"})
	p.OnData(peer2, MultiVote{Votes: map[int]string{testParticipantPort: "B", 20002: "A"}})
	status := p.Status()
	assert.Equal(SendOutcome.String(), status.State)
	assert.Equal(&Outcome{TiedOptions: []string{"A"}}, status.Outcome)

	// the peer restarted first, its new generation is buffered
	p.OnData(peer2, Vote{Port: 20002, Choice: "A"})
	assert.Equal(SendOutcome.String(), p.Status().State)

	voteOptions(t, p, coordinator, "A")
	status = p.Status()
	assert.Equal(1, status.Generation)
	assert.Equal("A", status.Vote)
	assert.Equal(map[int]string{testParticipantPort: "A", 20002: "A"}, status.Votes)

	tokens := transport.conn(20002).tokens()
	assert.Contains(tokens, Vote{Port: testParticipantPort, Choice: "A"})

	p.OnData(peer2, MultiVote{Votes: map[int]string{testParticipantPort: "A", 20002: "A"}})
	status = p.Status()
	assert.Equal(SendOutcome.String(), status.State)
	assert.Equal(&Outcome{Winner: "A", Voters: []int{testParticipantPort, 20002}}, status.Outcome)
}

func TestParticipant_staleGeneration(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A"})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002, 20003}})
	voteOptions(t, p, coordinator, "A", "B")

	peer2 := inboundPeer(p, 20002)
	peer3 := inboundPeer(p, 20003)
	p.OnData(peer2, Vote{Port: 20002, Choice: "B"})
	p.OnData(peer3, Vote{Port: 20003, Choice: "B"})
	p.OnData(peer2, MultiVote{Votes: map[int]string{testParticipantPort: "A", 20002: "B", 20003: "B"}})
	p.OnData(peer3, MultiVote{Votes: map[int]string{testParticipantPort: "A", 20002: "B", 20003: "B"}})
	assert.Equal(SendOutcome.String(), p.Status().State)

	voteOptions(t, p, coordinator, "A")
	assert.Equal(Casting.String(), p.Status().State)

	// 20003 still sends tokens of the previous generation
	p.OnData(peer3, Vote{Port: 20002, Choice: "B"})
	assert.Equal(map[int]string{testParticipantPort: "A"}, p.Status().Votes)
}

func TestParticipant_failureDuringVoteBroadcast(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A", Failure: FailDuringVoteBroadcast})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002, 20003, 20004}})
	voteOptions(t, p, coordinator, "A", "B")

	assert.ErrorIs(waitParticipant(t, p), ErrInjectedFailure)
	voted := 0
	for _, port := range []int{20002, 20003, 20004} {
		conn := transport.conn(port)
		assert.True(conn.isClosed())
		if len(conn.tokens()) == 2 {
			voted++
		}
	}
	assert.Equal(2, voted)
	assert.True(coordinator.isClosed())
}

func TestParticipant_failureAfterOutcomeResolution(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A", Failure: FailAfterOutcomeResolution})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{})
	voteOptions(t, p, coordinator, "A", "B")

	assert.ErrorIs(waitParticipant(t, p), ErrInjectedFailure)
	assert.Equal([]Token{Join{Port: testParticipantPort}}, coordinator.tokens())
	assert.Equal(&Outcome{Winner: "A", Voters: []int{testParticipantPort}}, p.Status().Outcome)
}

func TestParticipant_coordinatorLost(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{})
	p.OnDisconnect(transport.conn(testCoordinatorPort))
	assert.ErrorIs(waitParticipant(t, p), ErrCoordinatorLost)

	// events after the end are ignored
	p.OnData(transport.conn(testCoordinatorPort), Details{Ports: []int{20002}})
	assert.Empty(p.Status().Peers)
}

func TestParticipant_quiescenceTimeout(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "B", Timeout: 50 * time.Millisecond})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002}})
	voteOptions(t, p, coordinator, "A", "B")

	assert.Eventually(func() bool {
		return p.Status().State == SendOutcome.String()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(&Outcome{Winner: "B", Voters: []int{testParticipantPort}}, p.Status().Outcome)
}

func TestParticipant_randomVote(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "Z"})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002}})
	voteOptions(t, p, coordinator, "A", "B", "C")
	assert.Contains([]string{"A", "B", "C"}, p.Status().Vote)
}

func TestParticipant_emptyOptions(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{})
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, VoteOptions{})
	assert.ErrorIs(waitParticipant(t, p), ErrNoOptions)
}

func TestParticipant_stop(t *testing.T) {
	assert := assert.New(t)

	p, _ := basicParticipantSetup(t, ParticipantOptions{})
	p.Stop()
	assert.ErrorIs(waitParticipant(t, p), ErrShutdown)
	assert.ErrorIs(p.Start(context.Background()), ErrAlreadyStarted)
	p.OnMalformed(nil, "HELLO", ErrMalformedToken)
}

func TestParticipant_dialOutsideLock(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A", DialTimeout: 2 * time.Second})
	transport.hold(20002, 20003)
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002, 20003}})
	p.OnData(coordinator, VoteOptions{Options: []string{"A", "B"}})

	// peer callbacks are served while the dials are pending
	handled := make(chan struct{})
	go func() {
		peer2 := inboundPeer(p, 20002)
		p.OnData(peer2, Vote{Port: 20002, Choice: "B"})
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("peer callback blocked by pending dials")
	}
	assert.Equal(map[int]string{testParticipantPort: "A"}, p.Status().Votes)

	transport.release()
	assert.Eventually(func() bool {
		return len(p.Status().Votes) == 2
	}, 5*time.Second, time.Millisecond)
	for _, port := range []int{20002, 20003} {
		assert.Equal([]Token{
			Join{Port: testParticipantPort},
			Vote{Port: testParticipantPort, Choice: "A"},
		}, transport.conn(port).tokens())
	}
}

func TestParticipant_linkLostWhileDialing(t *testing.T) {
	assert := assert.New(t)

	p, transport := basicParticipantSetup(t, ParticipantOptions{FixedVote: "A"})
	transport.hold(20002)
	coordinator := transport.conn(testCoordinatorPort)
	p.OnData(coordinator, Details{Ports: []int{20002, 20003}})
	p.OnData(coordinator, VoteOptions{Options: []string{"A", "B"}})

	// the link to 20003 drops before it is registered
	assert.Eventually(func() bool {
		return transport.conn(20003) != nil
	}, 5*time.Second, time.Millisecond)
	p.OnDisconnect(transport.conn(20003))
	transport.release()

	assert.Eventually(func() bool {
		return len(p.Status().Peers) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal([]int{20002}, p.Status().Peers)
	assert.True(transport.conn(20003).isClosed())
}
