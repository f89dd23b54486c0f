package node

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Lord-Y/quorumvote"
	bolt "go.etcd.io/bbolt"
)

// buildSignal will build the signal required to stop the node
func buildSignal() chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}

// buildStore will build the history store of the coordinator
func (c *Coordinator) buildStore() (quorumvote.HistoryStore, error) {
	if c.DataDir == "" {
		return quorumvote.NewMemoryHistoryStore(), nil
	}
	return quorumvote.NewBoltHistoryStore(quorumvote.BoltOptions{
		DataDir: c.DataDir,
		Options: bolt.DefaultOptions,
	})
}
