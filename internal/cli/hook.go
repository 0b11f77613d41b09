package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/gate"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/model"
)

var preReceiveCmd = &cobra.Command{
	Use:   "pre-receive <conf>",
	Short: "Evaluate the updates git passes to a pre-receive hook",
	Long: `Read "<old> <new> <ref>" lines from stdin, run every check of the hook
configuration <conf> on each update and print the transcript.

<conf> is resolved against conf_dir unless it is absolute.

Exit codes:
  0  every update is permitted
  1  an update is denied, or the evaluation failed`,
	Args: cobra.ExactArgs(1),
	RunE: runPreReceive,
}

var updateCmd = &cobra.Command{
	Use:   "update <conf> <ref> <old> <new>",
	Short: "Evaluate a single update, as git's update hook",
	Args:  cobra.ExactArgs(4),
	RunE:  runUpdate,
}

func runPreReceive(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ev, err := s.evaluator(args[0], s.mailer(), true)
	if err != nil {
		return s.fatal(err)
	}

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	permit, err := ev.Run(ctx, cmd.InOrStdin(), gate.NewStyledPrinter(cmd.OutOrStdout()))
	if err != nil {
		return s.fatal(err)
	}
	if !permit {
		return errDenied
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	upd, err := model.ParseRefUpdate(strings.Join([]string{args[2], args[3], args[1]}, " "))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInput, "update arguments")
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ev, err := s.evaluator(args[0], s.mailer(), true)
	if err != nil {
		return s.fatal(err)
	}

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	permit, err := ev.RunOne(ctx, upd, gate.NewStyledPrinter(cmd.OutOrStdout()))
	if err != nil {
		return s.fatal(err)
	}
	if !permit {
		return errDenied
	}
	return nil
}

func (s *session) mailer() mail.Factory {
	return mail.SMTPFactory(s.log)
}

// printResults writes results with the plain printer and reports whether all
// were permitted.
func printResults(cmd *cobra.Command, results []gate.Result) (bool, error) {
	out := gate.PlainPrinter{W: cmd.OutOrStdout()}
	permit := true
	for _, res := range results {
		if err := out.Print(res); err != nil {
			return false, err
		}
		permit = permit && res.Verdict.Permit
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No updates to evaluate.")
	}
	return permit, nil
}
