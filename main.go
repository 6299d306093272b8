// Command btidx manages a single-file, disk-resident B-tree index that
// maps unsigned 64-bit keys to unsigned 64-bit values.
//
//	btidx create  <index>
//	btidx insert  <index> <key> <value>
//	btidx search  <index> <key>
//	btidx load    <index> <csv>
//	btidx print   <index>
//	btidx extract <index> <out>
//	btidx bench   <workdir>
//
// One process invocation performs one command end to end. Error messages
// go to standard output; diagnostics (--verbose) go to standard error.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// errReported marks errors whose message has already been printed by the
// command itself, so run only sets the exit code.
var errReported = errors.New("error already reported")

// app carries state shared by all subcommands. The logger is replaced in
// PersistentPreRun once the --verbose flag has been parsed.
type app struct {
	log zerolog.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, logOut io.Writer) int {
	root := newRootCommand(logOut)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(out, err)
		}
		return 1
	}
	return 0
}

func newRootCommand(logOut io.Writer) *cobra.Command {
	a := &app{log: zerolog.Nop()}

	var verbose bool
	root := &cobra.Command{
		Use:           "btidx",
		Short:         "btidx manages a single-file B-tree index of integer pairs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				a.log = zerolog.New(zerolog.ConsoleWriter{Out: logOut}).
					With().Timestamp().Logger().Level(zerolog.DebugLevel)
			}
		},
		// A bare invocation is a usage error, not a help request.
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New(cmd.UsageString())
		},
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "log diagnostics to stderr")

	root.AddCommand(
		a.newCreateCommand(),
		a.newInsertCommand(),
		a.newSearchCommand(),
		a.newLoadCommand(),
		a.newPrintCommand(),
		a.newExtractCommand(),
		a.newBenchCommand(),
	)
	return root
}
