package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/contextd/pkg/log"
)

// MinContextLength is the smallest budget that still fits the digest title
// and footer.
const MinContextLength = 256

type AppConfig struct {
	RuntimePath string `env:"CONTEXTD_RUNTIME_PATH" envDefault:".contextd"`

	// Store & artifact
	SourcePath  string `env:"CONTEXTD_SOURCE_PATH" envDefault:"conversations"`
	TargetPath  string `env:"CONTEXTD_TARGET_PATH" envDefault:"CONTEXT.md"`
	PublishHTML bool   `env:"CONTEXTD_PUBLISH_HTML" envDefault:"false"`

	GenerationEnabled bool `env:"CONTEXTD_GENERATION_ENABLED" envDefault:"true"`

	// Digest
	MaxContextLength  int     `env:"CONTEXTD_MAX_CONTEXT_LENGTH" envDefault:"16000"`
	MinRelevanceScore float64 `env:"CONTEXTD_MIN_RELEVANCE_SCORE" envDefault:"0.1"`
	MaxConversations  int     `env:"CONTEXTD_MAX_CONVERSATIONS" envDefault:"20"`

	// Extraction
	MaxSummaryLength    int    `env:"CONTEXTD_MAX_SUMMARY_LENGTH" envDefault:"200"`
	MaxDecisions        int    `env:"CONTEXTD_MAX_DECISIONS" envDefault:"5"`
	MaxTechnicalDetails int    `env:"CONTEXTD_MAX_TECHNICAL_DETAILS" envDefault:"5"`
	MaxNextSteps        int    `env:"CONTEXTD_MAX_NEXT_STEPS" envDefault:"5"`
	ScanWindow          int    `env:"CONTEXTD_SCAN_WINDOW" envDefault:"5"`
	KeywordsPath        string `env:"CONTEXTD_KEYWORDS_PATH" envDefault:"keywords.yaml"`

	// Engine
	UpdateIntervalSeconds int `env:"CONTEXTD_UPDATE_INTERVAL_SECONDS" envDefault:"300"`
	MaxCacheSize          int `env:"CONTEXTD_MAX_CACHE_SIZE" envDefault:"100"`
	DebounceMS            int `env:"CONTEXTD_DEBOUNCE_MS" envDefault:"500"`
	PublishRetries        int `env:"CONTEXTD_PUBLISH_RETRIES" envDefault:"3"`
	Workers               int `env:"CONTEXTD_WORKERS" envDefault:"4"`
}

// ParseAppConfig reads the config from the environment described by opts and
// validates it.
func ParseAppConfig(opts env.Options) (*AppConfig, error) {
	c := &AppConfig{}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultAppConfig returns the configuration an empty environment yields.
func DefaultAppConfig() (*AppConfig, error) {
	return ParseAppConfig(env.Options{Environment: map[string]string{}})
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c, err := ParseAppConfig(env.Options{})
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.MinRelevanceScore < 0 || c.MinRelevanceScore > 1 {
		errs = append(errs, fmt.Errorf("min relevance score must be within [0,1], got %v", c.MinRelevanceScore))
	}
	if c.MaxContextLength < MinContextLength {
		errs = append(errs, fmt.Errorf("max context length must be at least %d bytes, got %d", MinContextLength, c.MaxContextLength))
	}

	positive := []struct {
		name  string
		value int
	}{
		{"max conversations", c.MaxConversations},
		{"max cache size", c.MaxCacheSize},
		{"max summary length", c.MaxSummaryLength},
		{"update interval", c.UpdateIntervalSeconds},
		{"scan window", c.ScanWindow},
		{"debounce", c.DebounceMS},
		{"workers", c.Workers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}

	nonNegative := []struct {
		name  string
		value int
	}{
		{"max decisions", c.MaxDecisions},
		{"max technical details", c.MaxTechnicalDetails},
		{"max next steps", c.MaxNextSteps},
		{"publish retries", c.PublishRetries},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", p.name, p.value))
		}
	}

	if c.TargetPath == "" {
		errs = append(errs, errors.New("target path is required"))
	}
	return errors.Join(errs...)
}

// GetRuntimePath returns the runtime directory, relative values taken from
// the home directory.
func (c AppConfig) GetRuntimePath() string {
	return homeRelative(c.RuntimePath)
}

func (c AppConfig) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.GetRuntimePath(), p)
}

// GetSourcePath is a directory of <id>.json files or a *.db SQLite file.
func (c AppConfig) GetSourcePath() string {
	return c.resolve(c.SourcePath)
}

func (c AppConfig) GetTargetPath() string {
	return c.resolve(c.TargetPath)
}

func (c AppConfig) GetKeywordsPath() string {
	return c.resolve(c.KeywordsPath)
}

func (c AppConfig) GetEnvPath() string {
	return filepath.Join(c.GetRuntimePath(), ".env")
}

func (c AppConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSeconds) * time.Second
}

func (c AppConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}
