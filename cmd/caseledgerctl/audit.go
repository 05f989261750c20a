package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/spf13/cobra"
)

var (
	grantTTL     int
	verifyFormat string
	verifyXLSX   string
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Give auditors time-limited read access to a case",
}

var grantAddCmd = &cobra.Command{
	Use:   "add <case-id> <auditor-id>",
	Short: "Grant an auditor access to a case",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		g, err := c.GrantAccess(context.Background(), args[0], args[1], grantTTL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s may read %s until %s\n", g.AuditorID, g.CaseID, g.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var grantListCmd = &cobra.Command{
	Use:   "list <case-id>",
	Short: "List the grants issued on a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		grants, err := c.ListGrants(context.Background(), args[0])
		if err != nil {
			return err
		}
		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AUDITOR\tGRANTED BY\tEXPIRES\tACTIVE")
		for _, g := range grants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", g.AuditorID, g.GrantedBy, g.ExpiresAt.Format(time.RFC3339), now.Before(g.ExpiresAt))
		}
		return w.Flush()
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check work logs against the case ledger",
}

var verifyLogCmd = &cobra.Command{
	Use:   "log <case-id> <log-id>",
	Short: "Verify one work log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		v, err := c.VerifyLog(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if verifyFormat != "text" {
			return printStructured(cmd.OutOrStdout(), verifyFormat, v)
		}
		writeLogVerification(cmd.OutOrStdout(), v)
		return nil
	},
}

var verifyCaseCmd = &cobra.Command{
	Use:   "case <case-id>",
	Short: "Verify every work log of a case and the ledger itself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		report, err := c.VerifyCase(context.Background(), args[0])
		if err != nil {
			return err
		}
		if verifyXLSX != "" {
			if err := writeVerificationWorkbook(verifyXLSX, report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "workbook written to %s\n", verifyXLSX)
		}
		if verifyFormat != "text" {
			return printStructured(cmd.OutOrStdout(), verifyFormat, report)
		}
		writeCaseVerification(cmd.OutOrStdout(), report)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <case-id>",
	Short: "Verify a case on the server and archive the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		loc, err := c.ArchiveReport(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report archived at %s\n", loc)
		return nil
	},
}

func init() {
	grantAddCmd.Flags().IntVar(&grantTTL, "ttl-hours", 72, "grant lifetime in hours")
	grantCmd.AddCommand(grantAddCmd, grantListCmd)

	verifyCmd.PersistentFlags().StringVar(&verifyFormat, "format", "text", "output format: text, json or yaml")
	verifyCaseCmd.Flags().StringVar(&verifyXLSX, "xlsx", "", "also write the report to an Excel workbook")
	verifyCmd.AddCommand(verifyLogCmd, verifyCaseCmd)

	rootCmd.AddCommand(grantCmd, verifyCmd, reportCmd)
}

func mark(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

func writeLogVerification(w io.Writer, v *client.LogVerification) {
	fmt.Fprintf(w, "%-4s %s (ledger index %d, version %d)\n", mark(v.Verified), v.LogID, v.LedgerIndex, v.Version)
	fmt.Fprintf(w, "     recomputed %s\n", v.RecomputedHash)
	fmt.Fprintf(w, "     on ledger  %s\n", v.OnChainHash)
	if v.Problem != "" {
		fmt.Fprintf(w, "     problem    %s\n", v.Problem)
	}
}

func writeCaseVerification(w io.Writer, r *client.CaseVerification) {
	fmt.Fprintf(w, "Case %s (%s) checked %s\n", r.CaseID, r.Status, r.CheckedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Result: %s  logs=%d mismatches=%d\n\n", mark(r.Verified), r.Logs, r.Mismatch)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tLOG\tVER\tINDEX\tRESULT\tNOTE")
	for _, g := range r.Groups {
		key := g.Key
		if g.Provisional {
			key += "*"
		}
		rows := append([]*client.LogVerification{g.Original}, g.Edits...)
		for _, v := range rows {
			if v == nil {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", key, v.LogID, v.Version, v.LedgerIndex, mark(v.Verified), v.Problem)
		}
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	chain := mark(r.ChainIntact)
	if r.ChainError != "" {
		chain += " (" + r.ChainError + ")"
	}
	fmt.Fprintf(w, "Ledger chain:     %s\n", chain)
	fmt.Fprintf(w, "Summary:          %s (stored %d/%d, computed %d/%d)\n", mark(r.SummaryConsistent),
		r.StoredSummary.TotalLogs, r.StoredSummary.TotalTimeSpent,
		r.ComputedSummary.TotalLogs, r.ComputedSummary.TotalTimeSpent)
	if len(r.Orphans) > 0 {
		fmt.Fprintf(w, "Orphaned entries: %s\n", strings.Join(r.Orphans, ", "))
	}
	if r.Finalized || r.FinalHash != "" {
		fmt.Fprintf(w, "Final hash:       %s\n", mark(r.FinalHashMatches))
		fmt.Fprintf(w, "  stored          %s\n", orDash(r.FinalHash))
		fmt.Fprintf(w, "  ledger          %s\n", orDash(r.LedgerFinalHash))
		fmt.Fprintf(w, "  recomputed      %s\n", orDash(r.RecomputedFinalHash))
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
