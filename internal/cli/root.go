// Package cli implements the refgate command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "refgate",
	Short: "Server-side git push policy hooks",
	Long: `refgate evaluates the ref updates of a push against a configured list
of policy checks and tells git whether to accept them.

Install it as the repository's pre-receive hook:

  #!/bin/sh
  exec refgate --ini /etc/refgate/refgate.ini pre-receive hooks.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("ini", "", "INI file with the shared and per-check parameters")
	f.String("env-file", "", "dotenv file loaded before the environment is read")
	f.String("repo", ".", "repository the hook runs in")
	f.Duration("timeout", 0, "abort the evaluation after this long (0 disables)")
	f.String("journal", "", "SQLite DSN of the decision journal (overrides the journal parameter)")

	rootCmd.AddCommand(preReceiveCmd, updateCmd, reviewCmd, checksCmd, historyCmd, versionCmd)
}

// errDenied reports a rejected push. The transcript already told the pusher
// why, so nothing more is printed.
var errDenied = errors.New("push denied")

// Execute runs the command line and returns the error that decides the exit
// status.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil && !errors.Is(err, errDenied) {
		fmt.Fprintf(os.Stderr, "refgate: %v\n", err)
	}
	return err
}
