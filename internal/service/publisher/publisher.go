package publisher

import (
	"context"
	"os"
	"time"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/internal/service/aggregator"
	"github.com/sandevgo/contextd/pkg/atomicfile"
	"github.com/sandevgo/contextd/pkg/conv"
	"github.com/sandevgo/contextd/pkg/log"
	"github.com/sandevgo/contextd/pkg/retry"
)

const (
	DefaultMode = 0o644
	htmlTitle   = "Conversation Context"
)

type Options struct {
	TargetPath string
	// Retries is how many times a failed write is repeated.
	Retries int
	// HTML also publishes <target>.html rendered from the digest.
	HTML bool
	Mode os.FileMode
	FS   atomicfile.FS
	// Retrier overrides the backoff built from Retries.
	Retrier *retry.Retrier
}

type Publisher struct {
	target  string
	html    bool
	mode    os.FileMode
	fs      atomicfile.FS
	retrier *retry.Retrier
}

func New(opts Options) *Publisher {
	if opts.Mode == 0 {
		opts.Mode = DefaultMode
	}
	if opts.FS == nil {
		opts.FS = atomicfile.OSFS{}
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.NewRetrier(retry.NewPublishConfig(max(opts.Retries, 0)))
	}
	return &Publisher{
		target:  opts.TargetPath,
		html:    opts.HTML,
		mode:    opts.Mode,
		fs:      opts.FS,
		retrier: opts.Retrier,
	}
}

func (p *Publisher) TargetPath() string {
	return p.target
}

func (p *Publisher) HTMLPath() string {
	return p.target + ".html"
}

// Current reads the target back and verifies its checksum footer.
func (p *Publisher) Current() (string, bool) {
	body, err := os.ReadFile(p.target)
	if err != nil {
		return "", false
	}
	info, err := aggregator.Inspect(body)
	if err != nil || !info.Valid {
		return "", false
	}
	return info.Checksum, true
}

// Publish atomically replaces the target with the digest body, retrying with
// backoff. A running write is never interrupted: ctx is only consulted
// between attempts. After the last failed attempt a *core.PublishError is
// returned and the previous artifact is left as it was.
func (p *Publisher) Publish(ctx context.Context, d core.Digest) error {
	logger := log.Component(ctx, "publisher")

	attempts := 0
	retrier := p.retrier.WithNotify(func(attempt int, err error, delay time.Duration) {
		logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("path", p.target).
			Msg("publish attempt failed, retrying")
	})

	err := retrier.Do(ctx, func() error {
		attempts++
		return atomicfile.Write(p.fs, p.target, d.Body, p.mode)
	})
	if err != nil {
		return &core.PublishError{Path: p.target, Attempts: attempts, Err: err}
	}

	logger.Debug().
		Str("path", p.target).
		Int("bytes", len(d.Body)).
		Int("attempts", attempts).
		Msg("digest published")

	if p.html {
		page := conv.MarkdownToHTML(d.Body, htmlTitle)
		if err := atomicfile.Write(p.fs, p.HTMLPath(), page, p.mode); err != nil {
			logger.Warn().Err(err).Str("path", p.HTMLPath()).Msg("failed to publish html sidecar")
		}
	}
	return nil
}
