package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Make a single pass over every mailbox and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initTriage(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Runner.Poll(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "accounts=%d fetched=%d processed=%d forwarded=%d failed=%d\n",
			sum.Accounts, sum.Fetched, sum.Processed, sum.Forwarded, sum.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(onceCmd)
}
