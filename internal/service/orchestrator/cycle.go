package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/internal/service/extractor"
	"github.com/sandevgo/contextd/pkg/log"
	"golang.org/x/sync/errgroup"
)

type outcome struct {
	rec core.ContextRecord
	hit bool
	err error
}

// runCycle reads the store, refreshes the cache, aggregates and publishes.
// Unless force is set, a digest identical to the last published one is not
// written again.
func (o *Orchestrator) runCycle(ctx context.Context, force bool) (err error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	cycleLogger := log.FromCtx(ctx).With().Str("cycle", uuid.NewString()).Logger()
	ctx = cycleLogger.WithContext(ctx)
	logger := log.Component(ctx, "orchestrator")

	o.setState(StateProcessing)
	defer func() {
		o.finish(err)
		o.setState(StateIdle)
	}()

	convs, err := o.snapshots(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read conversations")
		return err
	}

	results, err := o.extractAll(ctx, convs)
	if err != nil {
		logger.Warn().Err(err).Msg("cycle interrupted")
		return err
	}

	records := make([]core.ContextRecord, 0, len(results))
	var hits, excluded int
	for _, r := range results {
		if r.err != nil {
			excluded++
			logger.Warn().Err(r.err).Msg("conversation excluded from digest")
			continue
		}
		if r.hit {
			hits++
		}
		records = append(records, r.rec)
	}

	if err := o.deps.Cache.EvictIfNeeded(); err != nil {
		var capErr *core.CacheCapacityError
		if errors.As(err, &capErr) {
			logger.WithLevel(zerolog.FatalLevel).Err(err).Msg("result cache invariant violated")
		} else {
			logger.Error().Err(err).Msg("cache eviction failed")
		}
	}

	digest := o.deps.Aggregator.Aggregate(records, o.opts.Clock())
	o.mu.Lock()
	o.status.Excluded = excluded
	o.status.Omitted = digest.Omitted
	unchanged := digest.Checksum != "" && digest.Checksum == o.lastPublished
	o.mu.Unlock()

	logger.Debug().
		Int("conversations", len(convs)).
		Int("cache_hits", hits).
		Int("excluded", excluded).
		Int("included", len(digest.IncludedConversationIDs)).
		Int("omitted", digest.Omitted).
		Int("bytes", digest.TotalBytes).
		Msg("digest aggregated")

	if !force {
		if current, ok := o.deps.Publisher.Current(); ok && current == digest.Checksum {
			logger.Debug().Str("checksum", digest.Checksum).Msg("digest unchanged, skipping publish")
			return nil
		}
		if unchanged {
			logger.Warn().Msg("published artifact is missing or was modified, republishing")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.setState(StatePublishing)
	if err := o.deps.Publisher.Publish(ctx, digest); err != nil {
		logger.Error().Err(err).Msg("failed to publish digest")
		return err
	}

	o.published(digest)
	logger.Info().
		Int("bytes", digest.TotalBytes).
		Int("included", len(digest.IncludedConversationIDs)).
		Str("checksum", digest.Checksum).
		Msg("digest published")
	return nil
}

// snapshots returns the conversations in scope. Changes reported by the
// watcher only trigger the cycle; a changed conversation that is not among the
// MaxConversations most recent ones is out of scope and is not loaded.
func (o *Orchestrator) snapshots(ctx context.Context) ([]core.Conversation, error) {
	dirty := o.takeDirty()

	convs, err := o.deps.Store.ListRecentConversations(ctx, o.opts.MaxConversations)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	if len(dirty) > 0 {
		log.FromCtx(ctx).Debug().Strs("changed", dirty).Msg("cycle triggered by changed conversations")
	}
	return convs, nil
}

// extractAll runs the cache-checked extraction for every conversation on a
// bounded pool. Cancellation is checked before each conversation.
func (o *Orchestrator) extractAll(ctx context.Context, convs []core.Conversation) ([]outcome, error) {
	results := make([]outcome, len(convs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, conv := range convs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.process(conv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// process returns the record for conv, extracting only when the cache has no
// entry for the conversation's current content.
func (o *Orchestrator) process(conv core.Conversation) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: &core.ExtractionError{
				ConversationID: conv.ID,
				Err:            fmt.Errorf("panic: %v", r),
			}}
		}
	}()

	fp := extractor.Fingerprint(conv.Messages)
	if rec, ok := o.deps.Cache.Get(fp); ok {
		return outcome{rec: rec.ForConversation(conv), hit: true}
	}

	rec := o.deps.Extractor.Extract(conv)
	rec.Fingerprint = fp
	o.deps.Cache.Put(fp, rec)
	return outcome{rec: rec}
}

func (o *Orchestrator) finish(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.status.Cycles++
	o.status.LastCycleAt = o.opts.Clock()
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		o.status.FailedCycles++
		o.status.LastError = err.Error()
		return
	}
	o.status.LastError = ""
}

func (o *Orchestrator) published(d core.Digest) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lastPublished = d.Checksum
	o.status.LastPublishedAt = d.GeneratedAt
	o.status.LastChecksum = d.Checksum
	o.status.LastDigestSize = d.TotalBytes
	o.status.Included = append([]string(nil), d.IncludedConversationIDs...)
	if o.opts.TokenCounter != nil {
		o.status.LastDigestTokens = o.opts.TokenCounter(string(d.Body))
	}
}
