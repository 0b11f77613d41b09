package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/journal"
	"github.com/sprite-ai/refgate/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history [ref]",
	Short: "Show recent decisions from the journal",
	Long: `List the most recent decisions recorded in the journal, newest first,
with the messages of every check. Requires --journal or the journal
parameter.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of decisions to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.journal == nil {
		return apperr.Configuration("no journal configured; use --journal or set the journal parameter")
	}

	ref := ""
	if len(args) == 1 {
		ref = args[0]
	}
	limit, _ := cmd.Flags().GetInt("limit")

	decisions, err := s.journal.Recent(cmd.Context(), ref, limit)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeConfiguration, "reading journal")
	}
	if len(decisions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No decisions recorded.")
		return nil
	}
	for _, d := range decisions {
		writeDecision(cmd, d)
	}
	return nil
}

func writeDecision(cmd *cobra.Command, d journal.Decision) {
	out := cmd.OutOrStdout()
	verdict := "permit"
	if !d.Permit {
		verdict = "deny"
	}
	upd := model.RefUpdate{Ref: d.Ref, OldID: d.OldID, NewID: d.NewID}
	fmt.Fprintf(out, "%s  %-6s %s\n", d.EvaluatedAt.Local().Format(time.DateTime), verdict, upd)
	for _, m := range d.Messages {
		e := model.Entry{Ref: d.Ref, Message: model.Message{At: m.At, Text: m.Text}}
		fmt.Fprintf(out, "    %s: %s\n", m.Check, e)
	}
}
