package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatpilot/internal/audit"
	"github.com/ziadkadry99/chatpilot/internal/config"
	"github.com/ziadkadry99/chatpilot/internal/db"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and maintain the audit trail",
}

var auditOlderThan time.Duration

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than the given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeDB, err := openAuditStore()
		if err != nil {
			return err
		}
		defer closeDB()

		n, err := store.DeleteBefore(cmd.Context(), time.Now().Add(-auditOlderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d audit entries older than %s.\n", n, auditOlderThan)
		return nil
	},
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of audit entries per kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeDB, err := openAuditStore()
		if err != nil {
			return err
		}
		defer closeDB()

		counts, err := store.CountByKind(cmd.Context())
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Println("No audit entries recorded yet.")
			return nil
		}
		for kind, n := range counts {
			fmt.Printf("%-20s %d\n", kind, n)
		}
		return nil
	},
}

func openAuditStore() (*audit.Store, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	database, err := db.Open(cfg.Audit.Path)
	if err != nil {
		return nil, nil, err
	}
	return audit.NewStore(database), func() { database.Close() }, nil
}

func init() {
	auditPruneCmd.Flags().DurationVar(&auditOlderThan, "older-than", 30*24*time.Hour, "delete entries older than this age")
	auditCmd.AddCommand(auditPruneCmd, auditStatsCmd)
	rootCmd.AddCommand(auditCmd)
}
