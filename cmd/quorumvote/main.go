package main

import (
	"context"
	"errors"
	"os"

	"github.com/Lord-Y/quorumvote"
	"github.com/Lord-Y/quorumvote/cmd/quorumvote/commands"
	"github.com/Lord-Y/quorumvote/logger"
	"github.com/urfave/cli/v3"
)

// exitInjectedFailure is the exit code of a participant crashing on purpose
const exitInjectedFailure = 2

func main() {
	cmd := cli.Command{
		Name:                  "quorumvote",
		Usage:                 "Decentralized voting among participants gathered by a coordinator",
		Description:           "Decentralized voting among participants gathered by a coordinator",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			commands.Coordinator(),
			commands.Participant(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, quorumvote.ErrInjectedFailure) {
			logger.NewLogger().Error().Err(err).Msg("Participant crashed")
			os.Exit(exitInjectedFailure)
		}
		logger.NewLogger().Fatal().Err(err).Msg("Error occured while executing the program")
	}
}
