// Command fedlearn runs one of the three coordination-plane node roles
// (Bootstrap, Client, Trainer) as a single binary, selected by subcommand.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 normal, 1 startup/config error, 2 bootstrap
// unreachable, 3 ledger unreachable.
const (
	exitOK               = 0
	exitStartupError     = 1
	exitBootstrapUnreach = 2
	exitLedgerUnreach    = 3
)

func main() {
	root := &cobra.Command{
		Use:   "fedlearn",
		Short: "federated-learning coordination node",
	}
	root.AddCommand(newBootstrapCmd())
	root.AddCommand(newClientCmd())
	root.AddCommand(newTrainerCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a startup error to one of the process exit codes in spec
// §6; roleError wraps the originating stage so callers don't need to
// compare error strings.
func exitCodeFor(err error) int {
	var re *roleError
	if errors.As(err, &re) {
		return re.code
	}
	return exitStartupError
}

// roleError tags a startup failure with the exit code its stage maps to.
type roleError struct {
	code int
	err  error
}

func (e *roleError) Error() string { return e.err.Error() }
func (e *roleError) Unwrap() error { return e.err }
