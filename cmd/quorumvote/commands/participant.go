package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/Lord-Y/quorumvote"
	"github.com/Lord-Y/quorumvote/cmd/quorumvote/node"
	"github.com/Lord-Y/quorumvote/logger"
	"github.com/urfave/cli/v3"
)

func Participant() *cli.Command {
	var app node.Participant

	return &cli.Command{
		Name:      "participant",
		Usage:     "Join a coordinator and take part in the voting",
		ArgsUsage: "<coordinatorPort> <ownListenPort> <timeoutMs> <failureCode> [<fixedOwnVote>]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "host",
				Value:       "127.0.0.1",
				Usage:       "Address used by this instance",
				Destination: &app.Host,
			},
			&cli.IntFlag{
				Name:        "http-port",
				Aliases:     []string{"hp"},
				Usage:       "http port of the status api, disabled when 0",
				Destination: &app.HTTPPort,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() < 4 || args.Len() > 5 {
				return fmt.Errorf("expected %s", cmd.ArgsUsage)
			}

			var err error
			if app.CoordinatorPort, err = intArg(args, 0, "coordinatorPort"); err != nil {
				return err
			}
			if app.Port, err = intArg(args, 1, "ownListenPort"); err != nil {
				return err
			}
			timeout, err := intArg(args, 2, "timeoutMs")
			if err != nil {
				return err
			}
			if timeout < 0 {
				return fmt.Errorf("invalid argument timeoutMs %d", timeout)
			}
			app.Timeout = time.Duration(timeout) * time.Millisecond
			if app.Failure, err = quorumvote.ParseFailureMode(args.Get(3)); err != nil {
				return err
			}
			app.FixedVote = args.Get(4)
			app.Logger = logger.NewNodeLogger("participant", app.Port)

			return app.Start(ctx)
		},
	}
}
