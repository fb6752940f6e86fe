package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mcptransport "github.com/sandevgo/contextd/internal/transport/mcp"
	"github.com/sandevgo/contextd/pkg/srv"
	"github.com/spf13/cobra"
)

// stopOnExit cancels the whole run when the wrapped service returns, so a
// closed stdio session shuts the engine down.
type stopOnExit struct {
	srv.Service
	cancel context.CancelFunc
}

func (s stopOnExit) Start(ctx context.Context) error {
	defer s.cancel()
	return s.Service.Start(ctx)
}

var mcpCmd = &cobra.Command{
	Use:          "mcp",
	Short:        "Run the engine and serve it to MCP clients over stdio",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// stdout carries the protocol
		var flushLog func()
		ctx, flushLog = setupLogger(ctx, os.Stderr)
		defer flushLog()

		engine, err := NewEngine(ctx, true)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		server := mcptransport.New(engine.Orchestrator, mcptransport.Options{
			Version:    version,
			TargetPath: engine.Publisher.TargetPath(),
		})

		services := append(engine.Services(), stopOnExit{Service: server, cancel: cancel})
		return srv.Run(ctx, services, srv.DefaultShutdownTimeout)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
