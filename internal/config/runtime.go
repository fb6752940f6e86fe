package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sandevgo/contextd/pkg/log"
)

const defaultRuntimeDir = ".contextd"

// GetRuntimePath returns the directory holding .env, keywords and the
// default store. Relative values are taken relative to the home directory.
func GetRuntimePath() string {
	path := os.Getenv("CONTEXTD_RUNTIME_PATH")
	if path == "" {
		path = defaultRuntimeDir
	}
	return homeRelative(path)
}

func homeRelative(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, path)
}

// LoadEnvFile loads <runtimePath>/.env if it exists. Variables already set in
// the process environment win.
func LoadEnvFile(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
