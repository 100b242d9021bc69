package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"generals/internal/audit"
	"generals/internal/config"
	"generals/internal/protocol"
	"generals/internal/wire"
)

var (
	runConfigPath string
	runOwnID      int
	runOrder      string
	runAuditDB    string
)

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to the roster YAML file (required)")
	runCmd.Flags().IntVar(&runOwnID, "id", -1, "this process's id in the roster (required)")
	runCmd.Flags().StringVar(&runOrder, "order", "", "order to propose; required for id 0, ignored otherwise")
	runCmd.Flags().StringVar(&runAuditDB, "audit-db", "generals-audit.db", "path to the audit journal database")
	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one process's share of a single agreement round",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if runOwnID < 0 {
		return fmt.Errorf("--id is required")
	}
	cfg, err := config.Load(runConfigPath, wire.ProcessId(runOwnID), runOrder)
	if err != nil {
		return err
	}
	if !cfg.SafetyMargin() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: N=%d M=%d does not satisfy N >= 3M+1; agreement is not guaranteed\n", cfg.N, cfg.M)
	}

	journal, err := audit.Open(runAuditDB, runRunID(cfg))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer journal.Close()

	decision, err := decide(cfg, journal)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), decision)
	return nil
}

// decide dispatches to the Commander or Lieutenant role according to
// cfg.OwnID and runs it to a final decision.
func decide(cfg *config.Config, journal *audit.Journal) (wire.Order, error) {
	if cfg.OwnID == 0 {
		c, err := protocol.NewCommander(cfg, journal)
		if err != nil {
			return 0, err
		}
		defer c.Close()
		return c.Decide(), nil
	}

	l, err := protocol.NewLieutenant(cfg, cfg.OwnID, journal)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Decide(), nil
}

// runRunID derives a stable per-process-run audit scope. It is
// intentionally independent of any value the Commander/Lieutenant
// generates internally for log correlation: the audit scope here is keyed
// by the invocation, not by the role object, since a caller inspecting the
// journal only knows config and id at the command line.
func runRunID(cfg *config.Config) string {
	return fmt.Sprintf("p%d-m%d-n%d", cfg.OwnID, cfg.M, cfg.N)
}
