package quorumvote

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/Lord-Y/quorumvote/logger"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

// clusterConfig describes an end to end run
type clusterConfig struct {
	t           *testing.T
	transport   Transport
	basePort    int
	quorumSize  int
	options     []string
	votes       []string
	failures    map[int]FailureMode
	timeout     time.Duration
	seed        int64
	coordinator *Coordinator
	cluster     []*Participant
}

func (cc *clusterConfig) participantPort(i int) int {
	return cc.basePort + 1 + i
}

// makeCluster starts the coordinator and every participant
func (cc *clusterConfig) makeCluster() {
	if cc.transport == nil {
		cc.transport = NewInmemTransport(logger.NewLogger())
	}
	if cc.basePort == 0 {
		cc.basePort = 40000
	}

	coordinator, err := NewCoordinator(CoordinatorOptions{
		Port:       cc.basePort,
		QuorumSize: cc.quorumSize,
		Options:    cc.options,
		Transport:  cc.transport,
	})
	if err != nil {
		cc.t.Fatal(err)
	}
	if err := coordinator.Start(); err != nil {
		cc.t.Fatal(err)
	}
	cc.coordinator = coordinator

	for i := range cc.votes {
		p, err := NewParticipant(ParticipantOptions{
			CoordinatorPort: cc.basePort,
			Port:            cc.participantPort(i),
			Timeout:         cc.timeout,
			Failure:         cc.failures[i],
			FixedVote:       cc.votes[i],
			Transport:       cc.transport,
			Rand:            rand.New(rand.NewSource(cc.seed + int64(i))),
		})
		if err != nil {
			cc.t.Fatal(err)
		}
		if err := p.Start(context.Background()); err != nil {
			cc.t.Fatal(err)
		}
		cc.cluster = append(cc.cluster, p)
	}
}

// wait return the coordinator conclusion and the participant errors
func (cc *clusterConfig) wait() (Result, error, []error) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errs := make([]error, len(cc.cluster))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range cc.cluster {
		g.Go(func() error {
			errs[i] = p.Wait(gctx)
			return nil
		})
	}
	result, err := cc.coordinator.Wait(ctx)
	_ = g.Wait()
	return result, err, errs
}

func TestScenarioA_unanimous(t *testing.T) {
	assert := assert.New(t)

	cc := clusterConfig{
		t:          t,
		quorumSize: 3,
		options:    []string{"A", "B"},
		votes:      []string{"A", "A", "A"},
	}
	cc.makeCluster()

	result, err, errs := cc.wait()
	assert.Nil(err)
	assert.Equal(Result{
		Winner:      "A",
		Voters:      []int{cc.participantPort(0), cc.participantPort(1), cc.participantPort(2)},
		Generations: 1,
	}, result)
	for _, err := range errs {
		assert.Nil(err)
	}
	for _, p := range cc.cluster {
		status := p.Status()
		assert.Equal(ParticipantDone.String(), status.State)
		if assert.NotNil(status.Outcome) {
			assert.Equal("A", status.Outcome.Winner)
		}
	}
}

func TestScenarioB_tieRestart(t *testing.T) {
	assert := assert.New(t)

	cc := clusterConfig{
		t:          t,
		quorumSize: 4,
		options:    []string{"A", "B"},
		votes:      []string{"A", "A", "B", "B"},
	}
	cc.makeCluster()

	result, err, errs := cc.wait()
	assert.Nil(err)
	assert.Equal("A", result.Winner)
	assert.Equal(2, result.Generations)
	assert.Len(result.Voters, 4)
	for _, err := range errs {
		assert.Nil(err)
	}

	history, err := cc.coordinator.History()
	assert.Nil(err)
	assert.Len(history, 2)
	assert.Equal(ConclusionTie, history[0].Conclusion)
	assert.Equal([]string{"A"}, history[0].TiedOptions)
	assert.Equal(ConclusionWinner, history[1].Conclusion)
	assert.Equal([]string{"A"}, history[1].Options)
}

// leavingHandler joins the coordinator and leaves once it receives the details
type leavingHandler struct{}

func (leavingHandler) OnData(conn Conn, token Token) {
	if _, ok := token.(Details); ok {
		_ = conn.Close()
	}
}

func (leavingHandler) OnDisconnect(Conn) {}

func TestScenarioC_disconnectBeforeVoting(t *testing.T) {
	assert := assert.New(t)

	cc := clusterConfig{
		t:          t,
		quorumSize: 3,
		options:    []string{"A", "B"},
		votes:      []string{"A", "A"},
	}
	cc.makeCluster()

	leaving, err := cc.transport.Dial(context.Background(), cc.basePort, leavingHandler{})
	assert.Nil(err)
	assert.Nil(leaving.Send(Join{Port: cc.participantPort(2)}))

	result, err, errs := cc.wait()
	assert.Nil(err)
	assert.Equal("A", result.Winner)
	assert.Equal([]int{cc.participantPort(0), cc.participantPort(1)}, result.Voters)
	for _, err := range errs {
		assert.Nil(err)
	}

	history, _ := cc.coordinator.History()
	last := history[len(history)-1]
	assert.Equal([]int{cc.participantPort(0), cc.participantPort(1)}, last.Participants)
	assert.Len(last.Outcomes, 2)
}

func TestScenario_failureDuringVoteBroadcast(t *testing.T) {
	assert := assert.New(t)

	cc := clusterConfig{
		t:          t,
		quorumSize: 3,
		options:    []string{"A", "B"},
		votes:      []string{"A", "A", "B"},
		failures:   map[int]FailureMode{2: FailDuringVoteBroadcast},
		timeout:    5 * time.Second,
	}
	cc.makeCluster()

	result, err, errs := cc.wait()
	assert.Nil(err)
	assert.Equal("A", result.Winner)
	assert.Subset(result.Voters, []int{cc.participantPort(0), cc.participantPort(1)})
	assert.Nil(errs[0])
	assert.Nil(errs[1])
	assert.ErrorIs(errs[2], ErrInjectedFailure)
}

func TestScenario_failureAfterOutcomeResolution(t *testing.T) {
	assert := assert.New(t)

	cc := clusterConfig{
		t:          t,
		quorumSize: 3,
		options:    []string{"A", "B"},
		votes:      []string{"B", "A", "B"},
		failures:   map[int]FailureMode{0: FailAfterOutcomeResolution},
		timeout:    5 * time.Second,
	}
	cc.makeCluster()

	result, err, errs := cc.wait()
	assert.Nil(err)
	assert.Equal("B", result.Winner)
	assert.Equal([]int{cc.participantPort(0), cc.participantPort(1), cc.participantPort(2)}, result.Voters)
	assert.ErrorIs(errs[0], ErrInjectedFailure)
	assert.Nil(errs[1])
	assert.Nil(errs[2])
}

func TestScenario_convergence(t *testing.T) {
	for size := 1; size <= 5; size++ {
		for seed := int64(0); seed < 3; seed++ {
			t.Run(fmt.Sprintf("size_%d_seed_%d", size, seed), func(t *testing.T) {
				assert := assert.New(t)

				cc := clusterConfig{
					t:          t,
					quorumSize: size,
					options:    []string{"A", "B", "C"},
					votes:      make([]string, size),
					seed:       seed * 100,
				}
				cc.makeCluster()

				result, err, errs := cc.wait()
				assert.Nil(err)
				assert.NotEmpty(result.Winner)
				for i, p := range cc.cluster {
					assert.Nil(errs[i])
					status := p.Status()
					if assert.NotNil(status.Outcome) {
						assert.Equal(result.Winner, status.Outcome.Winner)
					}
					assert.Equal(result.Generations-1, status.Generation)
					assert.LessOrEqual(status.Round, uint64(max(size-1, 0)))
				}
			})
		}
	}
}

// freePort return a tcp port available on the loopback interface
func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = listener.Close()
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

func TestScenario_tcp(t *testing.T) {
	assert := assert.New(t)

	transport := NewTCPTransport("", logger.NewLogger())
	coordinator, err := NewCoordinator(CoordinatorOptions{
		Port:       freePort(t),
		QuorumSize: 2,
		Options:    []string{"A", "B"},
		Transport:  transport,
	})
	assert.Nil(err)
	assert.Nil(coordinator.Start())

	var participants []*Participant
	for _, vote := range []string{"B", "B"} {
		p, err := NewParticipant(ParticipantOptions{
			CoordinatorPort: coordinator.options.Port,
			Port:            freePort(t),
			FixedVote:       vote,
			Transport:       transport,
		})
		assert.Nil(err)
		assert.Nil(p.Start(context.Background()))
		participants = append(participants, p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	result, err := coordinator.Wait(ctx)
	assert.Nil(err)
	assert.Equal("B", result.Winner)
	for _, p := range participants {
		assert.Nil(p.Wait(ctx))
	}
}
