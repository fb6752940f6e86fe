package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sandevgo/contextd/pkg/log"
	"github.com/sandevgo/contextd/pkg/srv"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the engine in the foreground",
	Long: `Watches the conversation store and republishes the digest whenever it
changes, and at least once per update interval.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// logger setup
		var flushLog func()
		ctx, flushLog = setupLogger(ctx, os.Stdout)
		defer flushLog()

		logger := log.FromCtx(ctx)
		logger.Info().Str("version", version).Msg("starting contextd")

		engine, err := NewEngine(ctx, true)
		if err != nil {
			return err
		}

		if err := srv.Run(ctx, engine.Services(), srv.DefaultShutdownTimeout); err != nil {
			return err
		}
		logger.Info().Msg("contextd has been shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
