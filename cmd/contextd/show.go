package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/sandevgo/contextd/internal/config"
	"github.com/sandevgo/contextd/pkg/log"
	"github.com/spf13/cobra"
)

var (
	showRaw   bool
	showWidth int
)

var showCmd = &cobra.Command{
	Use:          "show",
	Short:        "Render the published digest in the terminal",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context(), os.Stderr)
		defer flushLog()

		if err := config.LoadEnvFile(ctx, config.GetRuntimePath()); err != nil {
			return err
		}
		cfg := config.NewAppConfig(ctx)

		body, err := os.ReadFile(cfg.GetTargetPath())
		if err != nil {
			return fmt.Errorf("read digest: %w", err)
		}

		out := cmd.OutOrStdout()
		if showRaw {
			_, err = out.Write(body)
			return err
		}

		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(showWidth),
		)
		if err != nil {
			log.FromCtx(ctx).Debug().Err(err).Msg("markdown renderer unavailable")
			_, err = out.Write(body)
			return err
		}

		rendered, err := renderer.Render(string(body))
		if err != nil {
			log.FromCtx(ctx).Debug().Err(err).Msg("failed to render markdown")
			_, err = out.Write(body)
			return err
		}
		_, err = fmt.Fprint(out, rendered)
		return err
	},
}

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "print the Markdown source")
	showCmd.Flags().IntVarP(&showWidth, "width", "w", 100, "word wrap width")
	rootCmd.AddCommand(showCmd)
}
