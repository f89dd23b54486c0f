package node

import (
	"context"
	"os/signal"

	"github.com/Lord-Y/quorumvote"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Start will run the participant until the coordinator closes
// the run, an injected failure happens or a stop signal is received
func (p *Participant) Start(ctx context.Context) error {
	p.quit = buildSignal()
	defer signal.Stop(p.quit)
	p.registry = prometheus.NewRegistry()

	var err error
	p.participant, err = quorumvote.NewParticipant(quorumvote.ParticipantOptions{
		CoordinatorPort: p.CoordinatorPort,
		Port:            p.Port,
		Timeout:         p.Timeout,
		Failure:         p.Failure,
		FixedVote:       p.FixedVote,
		Logger:          p.Logger,
		Transport:       quorumvote.NewTCPTransport(p.Host, p.Logger),
		Registerer:      p.registry,
	})
	if err != nil {
		return err
	}
	if err := p.participant.Start(ctx); err != nil {
		return err
	}

	if p.HTTPPort > 0 {
		p.apiServer = newAPIServer(p.Host, p.HTTPPort, &api{
			status:   func() any { return p.participant.Status() },
			gatherer: p.registry,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveAPI(p.apiServer, p.Logger)
	})
	g.Go(func() error {
		defer stopAPIServer(p.apiServer, p.Logger)
		select {
		case <-p.quit:
			p.participant.Stop()
		case <-gctx.Done():
			p.participant.Stop()
		case <-p.participant.Done():
		}
		return p.participant.Wait(context.Background())
	})
	return g.Wait()
}
