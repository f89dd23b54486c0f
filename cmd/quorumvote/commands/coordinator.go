package commands

import (
	"context"
	"fmt"

	"github.com/Lord-Y/quorumvote/cmd/quorumvote/node"
	"github.com/Lord-Y/quorumvote/logger"
	"github.com/urfave/cli/v3"
)

func Coordinator() *cli.Command {
	var app node.Coordinator

	return &cli.Command{
		Name:      "coordinator",
		Usage:     "Start a coordinator waiting for quorumSize participants",
		ArgsUsage: "<listenPort> <quorumSize> <option>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "host",
				Value:       "127.0.0.1",
				Usage:       "Address used by this instance",
				Destination: &app.Host,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Aliases:     []string{"d"},
				Usage:       "Directory of the voting history, kept in memory when empty",
				Destination: &app.DataDir,
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
			if args.Len() < 3 {
				return fmt.Errorf("expected %s", cmd.ArgsUsage)
			}

			var err error
			if app.Port, err = intArg(args, 0, "listenPort"); err != nil {
				return err
			}
			if app.QuorumSize, err = intArg(args, 1, "quorumSize"); err != nil {
				return err
			}
			app.Options = args.Slice()[2:]
			app.Logger = logger.NewNodeLogger("coordinator", app.Port)

			return app.Start(ctx)
		},
	}
}
