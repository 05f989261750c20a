package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/spf13/cobra"
)

var (
	logFormat  string
	logMinutes int
	logAll     bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record, edit and list work logs",
}

var logAddCmd = &cobra.Command{
	Use:   "add <case-id> <description>",
	Short: "Record a new work log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		entry, err := c.AddLog(context.Background(), args[0], args[1], logMinutes)
		if err != nil {
			return err
		}
		return printLog(cmd, entry)
	},
}

var logEditCmd = &cobra.Command{
	Use:   "edit <case-id> <log-id> <description>",
	Short: "Record a new version of a work log",
	Long: `edit never changes the existing log. It records a new version with its
own log ID, anchored to the ledger with a reference to the version it
replaces.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		entry, err := c.EditLog(context.Background(), args[0], args[1], args[2], logMinutes)
		if err != nil {
			return err
		}
		return printLog(cmd, entry)
	},
}

var logListCmd = &cobra.Command{
	Use:   "list <case-id>",
	Short: "List the work logs of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		logs, err := c.ListLogs(context.Background(), args[0], logAll)
		if err != nil {
			return err
		}
		if logFormat != "text" {
			return printStructured(cmd.OutOrStdout(), logFormat, logs)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVER\tWHEN\tMIN\tDESCRIPTION")
		for _, l := range logs {
			id := l.ID
			switch {
			case l.Edited:
				id += " (superseded)"
			case l.Orphan:
				id += " (orphan)"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", id, l.Version, l.Timestamp.Format(time.RFC3339), l.TimeSpent, plain(l.Description))
		}
		return w.Flush()
	},
}

var logHistoryCmd = &cobra.Command{
	Use:   "history <case-id> <log-id>",
	Short: "Show every version of a work log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		h, err := c.LogHistory(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if logFormat != "text" {
			return printStructured(cmd.OutOrStdout(), logFormat, h)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "origin %s, current %s\n", h.OriginID, h.HeadID)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VER\tID\tPARENT\tMIN\tDESCRIPTION")
		for _, v := range h.Versions {
			parent := "-"
			if v.ParentIndex != nil {
				parent = fmt.Sprint(*v.ParentIndex)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", v.Version, v.ID, parent, v.TimeSpent, plain(v.Description))
		}
		return w.Flush()
	},
}

func init() {
	logCmd.PersistentFlags().StringVar(&logFormat, "format", "text", "output format: text, json or yaml")
	logAddCmd.Flags().IntVarP(&logMinutes, "minutes", "m", 0, "time spent in minutes")
	logEditCmd.Flags().IntVarP(&logMinutes, "minutes", "m", 0, "time spent in minutes")
	logListCmd.Flags().BoolVar(&logAll, "all", false, "include superseded versions")

	logCmd.AddCommand(logAddCmd, logEditCmd, logListCmd, logHistoryCmd)
	rootCmd.AddCommand(logCmd)
}

func printLog(cmd *cobra.Command, l *client.ProgressLog) error {
	if logFormat != "text" {
		return printStructured(cmd.OutOrStdout(), logFormat, l)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Log:       %s (version %d)\n", l.ID, l.Version)
	fmt.Fprintf(out, "Recorded:  %s\n", l.Timestamp.Format(time.RFC3339Nano))
	fmt.Fprintf(out, "Minutes:   %d\n", l.TimeSpent)
	fmt.Fprintf(out, "Hash:      %s\n", l.Hash)
	return nil
}
