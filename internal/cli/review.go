package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/refgate/internal/gate"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review <conf>",
	Short: "Dry-run a push and browse the result",
	Long: `Evaluate "<old> <new> <ref>" lines from stdin like pre-receive, without
sending mail or recording decisions, and open an interactive browser over
the transcript, the patches of the reported commits and the mail that
would have been sent.

Examples:
  echo "$(git rev-parse main~3) $(git rev-parse main) refs/heads/main" | refgate review hooks.yaml
  refgate review --plain hooks.yaml < updates.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().Bool("plain", false, "print the transcript instead of opening the browser")
}

func runReview(cmd *cobra.Command, args []string) error {
	updates, err := gate.ReadUpdates(cmd.InOrStdin())
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	outbox := &mail.Recorder{}
	ev, err := s.evaluator(args[0], outbox.Factory(), false)
	if err != nil {
		return s.fatal(err)
	}

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	results := make([]gate.Result, 0, len(updates))
	for _, upd := range updates {
		res, err := ev.Evaluate(ctx, upd)
		if err != nil {
			return s.fatal(err)
		}
		results = append(results, res)
	}

	plain, _ := cmd.Flags().GetBool("plain")
	if plain {
		permit, err := printResults(cmd, results)
		if err != nil {
			return err
		}
		if n := len(outbox.Batches()); n > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d mail batch(es) captured, not sent.\n", n)
		}
		if !permit {
			return errDenied
		}
		return nil
	}

	if len(results) > 0 {
		fmt.Fprintf(os.Stderr, "Evaluated %d update(s)\n", len(results))
	}
	patches := func(id string) (string, error) {
		return s.repo.CommitPatch(context.Background(), id)
	}
	return tui.Run(results, outbox.Batches(), patches)
}
