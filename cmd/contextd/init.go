package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sandevgo/contextd/internal/config"
	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/internal/service/ui"
	"github.com/sandevgo/contextd/pkg/atomicfile"
	"github.com/sandevgo/contextd/pkg/env"
	"github.com/sandevgo/contextd/pkg/log"
	"github.com/spf13/cobra"
)

const envHeader = `contextd configuration.
Values set in the process environment take precedence.`

var initForce bool

var initCmd = &cobra.Command{
	Use:          "init",
	Short:        "Write a default .env and keyword file to the runtime directory",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context(), os.Stderr)
		defer flushLog()
		logger := log.FromCtx(ctx)

		cfg, err := config.DefaultAppConfig()
		if err != nil {
			return err
		}
		runtimePath := config.GetRuntimePath()
		cfg.RuntimePath = runtimePath

		envData, err := env.MarshalEnv(cfg, env.WithZeroValues(), env.WithHeader(envHeader))
		if err != nil {
			return fmt.Errorf("render env: %w", err)
		}
		kwData, err := config.MarshalKeywords(core.DefaultKeywords())
		if err != nil {
			return fmt.Errorf("render keywords: %w", err)
		}

		files := []struct {
			path string
			data []byte
			mode os.FileMode
		}{
			{cfg.GetEnvPath(), []byte(envData), 0o600},
			{cfg.GetKeywordsPath(), kwData, 0o644},
		}

		out := cmd.OutOrStdout()
		for _, f := range files {
			written, err := writeIfMissing(f.path, f.data, f.mode, initForce)
			if err != nil {
				return err
			}
			if !written {
				fmt.Fprintln(out, ui.WarnStyle.Render("kept     ")+f.path)
				continue
			}
			fmt.Fprintln(out, ui.OKStyle.Render("written  ")+f.path)
		}

		logger.Debug().Str("path", runtimePath).Msg("runtime directory initialized")
		return nil
	},
}

func writeIfMissing(path string, data []byte, mode os.FileMode, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	if err := atomicfile.Write(atomicfile.OSFS{}, path, data, mode); err != nil {
		return false, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}
