package node

import (
	"context"
	"os/signal"

	"github.com/Lord-Y/quorumvote"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Start will run the coordinator until the voting concludes
// or a stop signal is received
func (c *Coordinator) Start(ctx context.Context) error {
	c.quit = buildSignal()
	defer signal.Stop(c.quit)
	c.registry = prometheus.NewRegistry()

	store, err := c.buildStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			c.Logger.Error().Err(err).Msg("Fail to close history store")
		}
	}()

	c.coordinator, err = quorumvote.NewCoordinator(quorumvote.CoordinatorOptions{
		Port:         c.Port,
		QuorumSize:   c.QuorumSize,
		Options:      c.Options,
		Logger:       c.Logger,
		Transport:    quorumvote.NewTCPTransport(c.Host, c.Logger),
		HistoryStore: store,
		Registerer:   c.registry,
	})
	if err != nil {
		return err
	}
	if err := c.coordinator.Start(); err != nil {
		return err
	}

	if c.HTTPPort > 0 {
		c.apiServer = newAPIServer(c.Host, c.HTTPPort, &api{
			status:   func() any { return c.coordinator.Status() },
			history:  c.coordinator.History,
			gatherer: c.registry,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveAPI(c.apiServer, c.Logger)
	})
	g.Go(func() error {
		defer stopAPIServer(c.apiServer, c.Logger)
		select {
		case <-c.quit:
			c.coordinator.Stop()
		case <-gctx.Done():
			c.coordinator.Stop()
		case <-c.coordinator.Done():
		}

		result, err := c.coordinator.Wait(context.Background())
		if err != nil {
			return err
		}
		c.Logger.Info().
			Str("winner", result.Winner).
			Ints("voters", result.Voters).
			Int("generations", result.Generations).
			Msg("Voting concluded")
		return nil
	})
	return g.Wait()
}
