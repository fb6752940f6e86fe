package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sandevgo/contextd/internal/config"
	"github.com/sandevgo/contextd/internal/service/aggregator"
	"github.com/sandevgo/contextd/internal/service/ui"
	"github.com/sandevgo/contextd/pkg/tokens"
	"github.com/spf13/cobra"
)

var statusJSON bool

type artifactStatus struct {
	Path        string    `json:"path"`
	Published   bool      `json:"published"`
	GeneratedAt time.Time `json:"generated_at,omitzero"`
	Checksum    string    `json:"checksum,omitempty"`
	Valid       bool      `json:"valid"`
	Bytes       int       `json:"bytes"`
	Tokens      int       `json:"tokens"`
	Source      string    `json:"source"`
	Enabled     bool      `json:"generation_enabled"`
}

var statusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Describe the published digest",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context(), os.Stderr)
		defer flushLog()

		if err := config.LoadEnvFile(ctx, config.GetRuntimePath()); err != nil {
			return err
		}
		cfg := config.NewAppConfig(ctx)

		st, err := readArtifactStatus(cfg)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printArtifactStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func readArtifactStatus(cfg *config.AppConfig) (artifactStatus, error) {
	st := artifactStatus{
		Path:    cfg.GetTargetPath(),
		Source:  cfg.GetSourcePath(),
		Enabled: cfg.GenerationEnabled,
	}

	body, err := os.ReadFile(st.Path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read digest: %w", err)
	}

	st.Published = true
	st.Bytes = len(body)
	st.Tokens = tokens.Count(string(body))
	if info, err := aggregator.Inspect(body); err == nil {
		st.GeneratedAt = info.GeneratedAt
		st.Checksum = info.Checksum
		st.Valid = info.Valid
	}
	return st, nil
}

func printArtifactStatus(w io.Writer, st artifactStatus) {
	fmt.Fprintln(w, ui.TitleStyle.Render("contextd"))
	fmt.Fprintln(w, ui.Row("source", st.Source))
	fmt.Fprintln(w, ui.Row("target", st.Path))

	enabled := ui.OKStyle.Render("enabled")
	if !st.Enabled {
		enabled = ui.WarnStyle.Render("disabled")
	}
	fmt.Fprintln(w, ui.Row("generation", enabled))

	if !st.Published {
		fmt.Fprintln(w, ui.Row("digest", ui.WarnStyle.Render("not published yet")))
		return
	}

	integrity := ui.OKStyle.Render("checksum ok")
	switch {
	case st.Checksum == "":
		integrity = ui.WarnStyle.Render("no footer")
	case !st.Valid:
		integrity = ui.ErrorStyle.Render("modified since publish")
	}
	fmt.Fprintln(w, ui.Row("digest", integrity))
	if !st.GeneratedAt.IsZero() {
		age := time.Since(st.GeneratedAt).Truncate(time.Second)
		fmt.Fprintln(w, ui.Row("generated", fmt.Sprintf("%s (%s ago)", st.GeneratedAt.Local().Format(time.DateTime), age)))
	}
	fmt.Fprintln(w, ui.Row("size", fmt.Sprintf("%d bytes, %d tokens", st.Bytes, st.Tokens)))
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print machine-readable output")
	rootCmd.AddCommand(statusCmd)
}
