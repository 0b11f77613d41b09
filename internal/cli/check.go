package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/refgate/internal/check"
	"github.com/sprite-ai/refgate/internal/mail"
)

var checksCmd = &cobra.Command{
	Use:   "checks [conf]",
	Short: "List the available checks, or validate a hook configuration",
	Long: `Without arguments, list every check that can be named in a hook
configuration. With <conf>, load that configuration the way pre-receive
would and report the checks it runs, in order.

Exit codes:
  0  the configuration loads
  1  it does not; the cause is printed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChecks,
}

func runChecks(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, name := range check.Names() {
			fmt.Fprintf(out, "  %-18s %s\n", name, check.Describe(name))
		}
		return nil
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ev, err := s.evaluator(args[0], (&mail.Recorder{}).Factory(), false)
	if err != nil {
		return err
	}
	for i, c := range ev.Checks {
		fmt.Fprintf(out, "%2d. %s\n", i+1, c.Name())
	}
	fmt.Fprintf(out, "%s: %d check(s) loaded\n", args[0], len(ev.Checks))
	return nil
}
