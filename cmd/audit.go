package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/audit"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Manage the triage audit log",
}

var auditMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the audit table if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("audit"); err != nil {
			return err
		}
		st, err := audit.Open(cmd.Context(), cfg.Audit)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate audit store")
		}
		zap.L().Info("audit store migrated", zap.String("driver", cfg.Audit.Driver))
		return nil
	},
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print the most recent audit rows as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("audit"); err != nil {
			return err
		}
		st, err := openAudit(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		rows, err := st.Recent(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return eris.Wrap(err, "encode audit row")
			}
		}
		return nil
	},
}

func init() {
	auditRecentCmd.Flags().IntVar(&auditLimit, "limit", 20, "rows to print")
	auditCmd.AddCommand(auditMigrateCmd, auditRecentCmd)
	rootCmd.AddCommand(auditCmd)
}
