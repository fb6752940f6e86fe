package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/internal/service/cache"
	"github.com/sandevgo/contextd/pkg/log"
	"github.com/sandevgo/contextd/pkg/tokens"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultWorkers  = 4
)

var ErrAlreadyStarted = errors.New("orchestrator already started")

type Extractor interface {
	Extract(conv core.Conversation) core.ContextRecord
}

type Cache interface {
	Get(fingerprint string) (core.ContextRecord, bool)
	Put(fingerprint string, rec core.ContextRecord) bool
	EvictIfNeeded() error
	Stats() cache.Stats
}

type Aggregator interface {
	Aggregate(records []core.ContextRecord, generatedAt time.Time) core.Digest
}

type Publisher interface {
	Publish(ctx context.Context, d core.Digest) error
	// Current returns the checksum of the artifact on disk. ok is false when
	// it is missing or does not verify.
	Current() (checksum string, ok bool)
}

type Watcher interface {
	Run(ctx context.Context) error
	Prime(ctx context.Context) error
	Events() <-chan string
	Healthy() bool
}

type Options struct {
	Interval time.Duration
	// MaxConversations is how many recent conversations a cycle reads.
	MaxConversations int
	Disabled         bool
	Workers          int
	TokenCounter     tokens.Counter
	Clock            func() time.Time
}

type Deps struct {
	Store      core.ConversationStore
	Extractor  Extractor
	Cache      Cache
	Aggregator Aggregator
	Publisher  Publisher
	// Watcher is optional. Without it changes are only picked up by the
	// periodic tick.
	Watcher Watcher
}

// Orchestrator is the only component that starts a processing cycle. At most
// one cycle runs at a time; triggers that arrive meanwhile collapse into a
// single follow-up cycle.
type Orchestrator struct {
	deps Deps
	opts Options

	trigger chan struct{}
	force   atomic.Bool
	cycleMu sync.Mutex

	started atomic.Bool
	done    chan struct{}

	mu            sync.Mutex
	cancel        context.CancelFunc
	dirty         map[string]struct{}
	status        Status
	lastPublished string
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
		dirty:   make(map[string]struct{}),
		status: Status{
			State:             StateIdle,
			GenerationEnabled: !opts.Disabled,
			Included:          []string{},
		},
	}
}

// Start runs the engine until ctx is cancelled or Shutdown is called. A first
// cycle is requested immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(o.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	stopped := o.status.State == StateStopped
	o.cancel = cancel
	o.mu.Unlock()
	if stopped {
		return nil
	}

	logger := log.Component(ctx, "orchestrator")

	if o.opts.Disabled {
		logger.Info().Msg("context generation is disabled, idling")
		<-ctx.Done()
		o.stop()
		return nil
	}

	var wg sync.WaitGroup
	if w := o.deps.Watcher; w != nil {
		if err := w.Prime(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to prime watcher")
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("watcher stopped")
			}
		}()
		go func() {
			defer wg.Done()
			o.intake(ctx, w.Events())
		}()
	}

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	logger.Info().
		Dur("interval", o.opts.Interval).
		Bool("watcher", o.deps.Watcher != nil).
		Msg("orchestrator started")

	o.requestCycle()
	for {
		select {
		case <-ctx.Done():
			o.stop()
			wg.Wait()
			logger.Info().Msg("orchestrator stopped")
			return nil

		case <-o.trigger:
			if ctx.Err() != nil {
				continue
			}
			_ = o.runCycle(ctx, o.force.Swap(false))

		case <-ticker.C:
			if w := o.deps.Watcher; w != nil && !w.Healthy() {
				logger.Debug().Msg("watcher degraded, tick performs a full rescan")
			}
			o.requestCycle()
		}
	}
}

// Shutdown stops the engine and waits for the current cycle to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel == nil {
		o.stop()
		return nil
	}
	cancel()

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerNow asks for a cycle that publishes even if the digest is
// unchanged. It never blocks; a trigger that is already pending absorbs it.
func (o *Orchestrator) TriggerNow() error {
	if o.opts.Disabled {
		return core.ErrGenerationDisabled
	}
	if o.State() == StateStopped {
		return core.ErrStopped
	}
	o.force.Store(true)
	o.requestCycle()
	return nil
}

// RunOnce runs a single cycle synchronously and always publishes.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if o.opts.Disabled {
		return core.ErrGenerationDisabled
	}
	if o.State() == StateStopped {
		return core.ErrStopped
	}
	return o.runCycle(ctx, true)
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.State
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := o.status
	st.Included = slices.Clone(st.Included)
	o.mu.Unlock()

	st.PendingTrigger = len(o.trigger) > 0
	if o.deps.Cache != nil {
		st.Cache = o.deps.Cache.Stats()
	}
	if o.deps.Watcher != nil {
		st.WatcherHealthy = o.deps.Watcher.Healthy()
	}
	return st
}

func (o *Orchestrator) requestCycle() {
	select {
	case o.trigger <- struct{}{}:
	default:
		// already pending
	}
}

func (o *Orchestrator) intake(ctx context.Context, events <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-events:
			if !ok {
				return
			}
			o.mu.Lock()
			o.dirty[id] = struct{}{}
			o.mu.Unlock()
			o.requestCycle()
		}
	}
}

func (o *Orchestrator) takeDirty() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.dirty))
	for id := range o.dirty {
		ids = append(ids, id)
	}
	clear(o.dirty)
	slices.Sort(ids)
	return ids
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.State != StateStopped {
		o.status.State = s
	}
}

// stop enters the terminal state and drops pending work.
func (o *Orchestrator) stop() {
	o.mu.Lock()
	o.status.State = StateStopped
	clear(o.dirty)
	o.mu.Unlock()

	select {
	case <-o.trigger:
	default:
	}
	o.force.Store(false)
}
