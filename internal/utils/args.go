package utils

import (
	"fmt"
	"io"

	"github.com/alexflint/go-arg"
)

// Parses args using go-arg and returns a boolean value indicating if the
// parse consumed the invocation. This usually happens when usage
// information was requested or the arguments were bad.
func ParseArgs(out io.Writer, name string, args []string, destination any) (retcode int, consumed bool) {
	parser, err := arg.NewParser(arg.Config{Program: name}, destination)
	if err != nil {
		fmt.Fprintln(out, "error:", err.Error())
		return 255, true
	}

	// Borrowed from MustParse.
	err = parser.Parse(args)
	switch err {
	case nil:
		if parser.Subcommand() == nil {
			parser.WriteHelp(out)
			return 255, true
		}
		return 0, false

	case arg.ErrHelp:
		parser.WriteHelpForSubcommand(out, parser.SubcommandNames()...)
		return 0, true

	case arg.ErrVersion:
		fmt.Fprintln(out, "unknown")
		return 0, true

	default:
		parser.WriteUsageForSubcommand(out, parser.SubcommandNames()...)
		fmt.Fprintln(out, "error:", err.Error())
		return 255, true
	}
}
