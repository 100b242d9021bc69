package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"generals/internal/audit"
)

var journalAuditDB string

func init() {
	journalCmd.Flags().StringVar(&journalAuditDB, "audit-db", "", "path to the audit journal database (required)")
	_ = journalCmd.MarkFlagRequired("audit-db")
	rootCmd.AddCommand(journalCmd)
}

var journalCmd = &cobra.Command{
	Use:   "journal <run-id>",
	Short: "Print the audit events recorded for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournal,
}

func runJournal(cmd *cobra.Command, args []string) error {
	events, err := audit.Events(journalAuditDB, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := len(events) - 1; i >= 0; i-- {
		if err := enc.Encode(events[i]); err != nil {
			return fmt.Errorf("journal: encoding event: %w", err)
		}
	}
	return nil
}
