package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	startPort     int
	startNoServer bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Poll the configured mailboxes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initTriage(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer stop()
			return env.Runner.Start(gCtx)
		})
		if !startNoServer {
			g.Go(func() error {
				return runServer(gCtx, resolvePort(startPort), newRouter(env.opsEnv))
			})
		}
		return g.Wait()
	},
}

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "ops server port (default from config)")
	startCmd.Flags().BoolVar(&startNoServer, "no-server", false, "poll without the ops HTTP server")
	rootCmd.AddCommand(startCmd)
}
