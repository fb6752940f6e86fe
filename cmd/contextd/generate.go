package main

import (
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/sandevgo/contextd/internal/service/ui"
	"github.com/sandevgo/contextd/pkg/log"
	"github.com/spf13/cobra"
)

var (
	generatePrint bool
	generateCopy  bool
)

var generateCmd = &cobra.Command{
	Use:          "generate",
	Short:        "Run one cycle and publish the digest",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context(), os.Stderr)
		defer flushLog()

		engine, err := NewEngine(ctx, false)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.Orchestrator.RunOnce(ctx); err != nil {
			return err
		}

		target := engine.Publisher.TargetPath()
		body, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("read published digest: %w", err)
		}

		if generateCopy {
			if err := clipboard.WriteAll(string(body)); err != nil {
				log.FromCtx(ctx).Warn().Err(err).Msg("clipboard is not available")
			}
		}

		out := cmd.OutOrStdout()
		if generatePrint {
			_, err = out.Write(body)
			return err
		}

		st := engine.Orchestrator.Status()
		fmt.Fprintln(out, ui.OKStyle.Render("published ")+target)
		fmt.Fprintln(out, ui.Row("conversations", fmt.Sprintf("%d included, %d omitted, %d excluded", len(st.Included), st.Omitted, st.Excluded)))
		fmt.Fprintln(out, ui.Row("size", fmt.Sprintf("%d bytes, ~%d tokens", st.LastDigestSize, st.LastDigestTokens)))
		return nil
	},
}

func init() {
	generateCmd.Flags().BoolVarP(&generatePrint, "print", "p", false, "write the digest to stdout")
	generateCmd.Flags().BoolVarP(&generateCopy, "copy", "c", false, "copy the digest to the clipboard")
	rootCmd.AddCommand(generateCmd)
}
