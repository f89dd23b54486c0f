package quorumvote

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

const (
	tagJoin        string = "JOIN"
	tagDetails     string = "DETAILS"
	tagVoteOptions string = "VOTE_OPTIONS"
	tagVote        string = "VOTE"
	tagOutcome     string = "OUTCOME"

	// tieOutcome is the wire value of an absent winner
	tieOutcome string = "null"

	maxPort int = 65535
)

// Encode return the single line representation of the token,
// without the trailing newline.
// Fields are separated by a single space
func Encode(t Token) string {
	var b strings.Builder

	switch v := t.(type) {
	case Join:
		b.WriteString(tagJoin)
		writeInts(&b, []int{v.Port})

	case Details:
		b.WriteString(tagDetails)
		writeInts(&b, v.Ports)

	case VoteOptions:
		b.WriteString(tagVoteOptions)
		writeStrings(&b, v.Options)

	case Vote:
		b.WriteString(tagVote)
		writeInts(&b, []int{v.Port})
		writeStrings(&b, []string{v.Choice})

	case MultiVote:
		b.WriteString(tagVote)
		for _, port := range sortedPorts(v.Votes) {
			writeInts(&b, []int{port})
			writeStrings(&b, []string{v.Votes[port]})
		}

	case Outcome:
		b.WriteString(tagOutcome)
		if v.IsTie() {
			writeStrings(&b, []string{tieOutcome})
			writeStrings(&b, v.TiedOptions)
		} else {
			writeStrings(&b, []string{v.Winner})
			writeInts(&b, v.Voters)
		}
	}
	return b.String()
}

// Decode parse a single line into a token.
// Decoding dispatches on the first whitespace delimited word.
// An error wrapping ErrMalformedToken is returned when the line
// cannot be parsed
func Decode(line string) (Token, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedToken)
	}
	tag, args := fields[0], fields[1:]

	switch tag {
	case tagJoin:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: %s expects 1 field, got %d", ErrMalformedToken, tag, len(args))
		}
		port, err := parsePort(args[0])
		if err != nil {
			return nil, err
		}
		return Join{Port: port}, nil

	case tagDetails:
		ports, err := parsePorts(args)
		if err != nil {
			return nil, err
		}
		return Details{Ports: ports}, nil

	case tagVoteOptions:
		return VoteOptions{Options: cloneOrNil(args)}, nil

	case tagVote:
		return decodeVote(args)

	case tagOutcome:
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: %s without outcome", ErrMalformedToken, tag)
		}
		if args[0] == tieOutcome {
			return Outcome{TiedOptions: cloneOrNil(args[1:])}, nil
		}
		voters, err := parsePorts(args[1:])
		if err != nil {
			return nil, err
		}
		return Outcome{Winner: args[0], Voters: voters}, nil
	}
	return nil, fmt.Errorf("%w: unknown tag %q", ErrMalformedToken, tag)
}

// decodeVote will return a single Vote when exactly one pair
// is provided, a MultiVote otherwise.
// Duplicated voters in the same line keep the last occurrence
func decodeVote(args []string) (Token, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: %s expects port/choice pairs, got %d fields", ErrMalformedToken, tagVote, len(args))
	}

	if len(args) == 2 {
		port, err := parsePort(args[0])
		if err != nil {
			return nil, err
		}
		return Vote{Port: port, Choice: args[1]}, nil
	}

	var votes map[int]string
	for i := 0; i < len(args); i += 2 {
		port, err := parsePort(args[i])
		if err != nil {
			return nil, err
		}
		if votes == nil {
			votes = make(map[int]string, len(args)/2)
		}
		votes[port] = args[i+1]
	}
	return MultiVote{Votes: votes}, nil
}

// parsePort parse a node id which is a tcp port
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid port %q", ErrMalformedToken, s)
	}
	if port <= 0 || port > maxPort {
		return 0, fmt.Errorf("%w: port %d out of range", ErrMalformedToken, port)
	}
	return port, nil
}

// parsePorts parse a list of node ids
func parsePorts(args []string) (ports []int, err error) {
	for _, arg := range args {
		port, err := parsePort(arg)
		if err != nil {
			return nil, err
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func writeInts(b *strings.Builder, values []int) {
	for _, v := range values {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(v))
	}
}

func writeStrings(b *strings.Builder, values []string) {
	for _, v := range values {
		b.WriteByte(' ')
		b.WriteString(v)
	}
}

// sortedPorts return the keys of the map in ascending order
// so that encoding is deterministic
func sortedPorts[V any](m map[int]V) []int {
	ports := make([]int, 0, len(m))
	for port := range m {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	return ports
}

func cloneOrNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return slices.Clone(s)
}

// validOption return nil when the option can be carried
// as a single field on the wire
func validOption(option string) error {
	switch {
	case option == "":
		return fmt.Errorf("%w: empty option", ErrInvalidOption)
	case option == tieOutcome:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidOption, option)
	case strings.ContainsFunc(option, unicode.IsSpace):
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidOption, option)
	}
	return nil
}
