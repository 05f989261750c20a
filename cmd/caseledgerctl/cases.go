package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/spf13/cobra"
)

var caseFormat string

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Open, inspect and move cases through their lifecycle",
}

var caseCreateCmd = &cobra.Command{
	Use:   "create <client-id> [title]",
	Short: "Open a case as lawyer",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		title := ""
		if len(args) == 2 {
			title = args[1]
		}
		cs, err := c.CreateCase(context.Background(), args[0], title)
		if err != nil {
			return err
		}
		return printCase(cmd.OutOrStdout(), cs)
	},
}

var caseShowCmd = &cobra.Command{
	Use:   "show <case-id>",
	Short: "Show a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		cs, err := c.GetCase(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printCase(cmd.OutOrStdout(), cs)
	},
}

var caseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the cases you are a party to",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		cases, err := c.ListCases(context.Background())
		if err != nil {
			return err
		}
		if caseFormat != "text" {
			return printStructured(cmd.OutOrStdout(), caseFormat, cases)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tLOGS\tMINUTES\tTITLE")
		for _, cs := range cases {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", cs.ID, displayStatus(cs.Status, cs.StatusLabel), cs.TotalLogs, cs.TotalTimeSpent, plain(cs.Title))
		}
		return w.Flush()
	},
}

var caseSummaryCmd = &cobra.Command{
	Use:   "summary <case-id>",
	Short: "Show the log totals of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		sum, err := c.Summary(context.Background(), args[0])
		if err != nil {
			return err
		}
		if caseFormat != "text" {
			return printStructured(cmd.OutOrStdout(), caseFormat, sum)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d logs  %d minutes\n",
			sum.CaseID, displayStatus(sum.Status, sum.StatusLabel), sum.TotalLogs, sum.TotalTimeSpent)
		return nil
	},
}

var (
	statusLabel  string
	statusReason string
)

var caseStatusCmd = &cobra.Command{
	Use:   "status <case-id> <status>",
	Short: "Change the status of a case",
	Long: `status moves a case to a new status.

The client accepts a pending case with "active". The lawyer moves an active
case between in_progress, on_hold, awaiting_client, completed, archived,
cancelled, disputed and other (which needs --label), and closes it with
"closed". Closing finalizes the case ledger.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ch, err := c.SetStatus(context.Background(), args[0], args[1], statusLabel, statusReason)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", ch.CaseID,
			displayStatus(ch.OldStatus, ch.OldLabel), displayStatus(ch.NewStatus, ch.NewLabel))
		if ch.LedgerDigest != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "ledger digest: %s\n", ch.LedgerDigest)
		}
		return nil
	},
}

var caseHistoryCmd = &cobra.Command{
	Use:   "history <case-id>",
	Short: "Show the status history of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		changes, err := c.StatusHistory(context.Background(), args[0])
		if err != nil {
			return err
		}
		if caseFormat != "text" {
			return printStructured(cmd.OutOrStdout(), caseFormat, changes)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tFROM\tTO\tBY\tREASON")
		for _, ch := range changes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ch.Timestamp.Format(time.RFC3339),
				displayStatus(ch.OldStatus, ch.OldLabel), displayStatus(ch.NewStatus, ch.NewLabel), ch.ActorID, plain(ch.Reason))
		}
		return w.Flush()
	},
}

var caseReconcileCmd = &cobra.Command{
	Use:   "reconcile <case-id>",
	Short: "Adopt a ledger entry the case store lost",
	Long: `reconcile repairs a case that refuses new logs because its ledger holds one
entry more than the case store, which happens when a write reached the
ledger but its local commit failed. The entry is adopted as an orphan log
with no content. Edit the orphan to record the lost work again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		rec, err := c.Reconcile(context.Background(), args[0])
		if err != nil {
			return err
		}
		if caseFormat != "text" {
			return printStructured(cmd.OutOrStdout(), caseFormat, rec)
		}
		writeReconciliation(cmd.OutOrStdout(), rec)
		return nil
	},
}

func init() {
	caseCmd.PersistentFlags().StringVar(&caseFormat, "format", "text", "output format: text, json or yaml")
	caseStatusCmd.Flags().StringVar(&statusLabel, "label", "", "label for the \"other\" status")
	caseStatusCmd.Flags().StringVar(&statusReason, "reason", "", "reason recorded with the change")

	caseCmd.AddCommand(caseCreateCmd, caseShowCmd, caseListCmd, caseSummaryCmd, caseStatusCmd, caseHistoryCmd, caseReconcileCmd)
	rootCmd.AddCommand(caseCmd)
}

func printCase(w io.Writer, cs *client.Case) error {
	if caseFormat != "text" {
		return printStructured(w, caseFormat, cs)
	}
	fmt.Fprintf(w, "Case:      %s\n", cs.ID)
	fmt.Fprintf(w, "Title:     %s\n", plain(cs.Title))
	fmt.Fprintf(w, "Lawyer:    %s\n", cs.LawyerID)
	fmt.Fprintf(w, "Client:    %s\n", cs.ClientID)
	fmt.Fprintf(w, "Status:    %s\n", displayStatus(cs.Status, cs.StatusLabel))
	fmt.Fprintf(w, "Logs:      %d (%d minutes)\n", cs.TotalLogs, cs.TotalTimeSpent)
	if cs.LedgerID != "" {
		fmt.Fprintf(w, "Ledger:    %s\n", cs.LedgerID)
	}
	if cs.FinalHash != "" {
		fmt.Fprintf(w, "Final:     %s\n", cs.FinalHash)
	}
	return nil
}

func displayStatus(status, label string) string {
	if label != "" {
		return status + ":" + plain(label)
	}
	return status
}

func writeReconciliation(w io.Writer, rec *client.Reconciliation) {
	if rec.Adopted == nil {
		fmt.Fprintf(w, "%s: ledger and store agree (%d entries)\n", rec.CaseID, rec.LedgerLen)
		return
	}
	a := rec.Adopted
	fmt.Fprintf(w, "%s: adopted ledger entry %d as %s (version %d)\n", rec.CaseID, a.Seq-1, a.ID, a.Version)
	fmt.Fprintf(w, "hash: %s\n", a.Hash)
	fmt.Fprintf(w, "edit %s to record the lost work again\n", a.ID)
}
