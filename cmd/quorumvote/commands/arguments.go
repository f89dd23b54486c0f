package commands

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"
)

// intArg parses the positional argument at index as an int
func intArg(args cli.Args, index int, name string) (int, error) {
	value := args.Get(index)
	if value == "" {
		return 0, fmt.Errorf("missing argument %s", name)
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid argument %s %q: %w", name, value, err)
	}
	return i, nil
}
