package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/pkg/log"
)

const (
	DefaultDebounce     = 500 * time.Millisecond
	DefaultRestartDelay = 30 * time.Second
	DefaultScanLimit    = 200

	eventBuffer = 64
)

var errNotifierStopped = errors.New("notifier stopped")

// Signal is a raw, undebounced change notification. An empty ConversationID
// asks for a full rescan.
type Signal struct {
	ConversationID string
}

// Notifier delivers raw change signals until ctx is done or the underlying
// mechanism fails. Sends on out must give up when ctx is done.
type Notifier interface {
	Notify(ctx context.Context, out chan<- Signal) error
}

// Lister is the part of the conversation store a rescan needs.
type Lister interface {
	ListRecentConversations(ctx context.Context, limit int) ([]core.Conversation, error)
}

type Options struct {
	Debounce time.Duration
	// MaxWait bounds how long a continuously changing conversation can be
	// held back. Defaults to four debounce windows.
	MaxWait time.Duration
	// RestartDelay is the pause before a failed notifier is started again.
	RestartDelay time.Duration
	// ScanLimit is how many recent conversations a rescan compares.
	ScanLimit int
}

type pendingChange struct {
	first time.Time
	last  time.Time
}

// Watcher turns raw change signals into debounced conversation ids. While
// the notifier is down it relies on rescans of the store instead.
type Watcher struct {
	opts     Options
	store    Lister
	notifier Notifier
	events   chan string
	healthy  atomic.Bool

	mu      sync.Mutex
	pending map[string]pendingChange
	// seen is the store listing as of the last Prime or Rescan.
	seen map[string]time.Time
	// reported holds ids the notifier delivered since the last rescan.
	reported map[string]time.Time
}

// New creates a watcher. notifier may be nil, in which case the watcher is
// permanently degraded and only rescans report changes.
func New(store Lister, notifier Notifier, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxWait < opts.Debounce {
		opts.MaxWait = 4 * opts.Debounce
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = DefaultScanLimit
	}

	return &Watcher{
		opts:     opts,
		store:    store,
		notifier: notifier,
		events:   make(chan string, eventBuffer),
		pending:  make(map[string]pendingChange),
		seen:     make(map[string]time.Time),
		reported: make(map[string]time.Time),
	}
}

// Events yields debounced conversation ids. It is closed when Run returns.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Healthy reports whether live change notifications are flowing.
func (w *Watcher) Healthy() bool {
	return w.healthy.Load()
}

// Mark records a change to id. Repeated marks inside one debounce window
// collapse into a single event.
func (w *Watcher) Mark(id string) {
	if id == "" {
		return
	}
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	// a rescan clears it, so it only outgrows the scan limit between rescans
	if len(w.reported) >= 4*w.opts.ScanLimit {
		clear(w.reported)
	}
	w.reported[id] = now
	w.mark(id, now)
}

func (w *Watcher) mark(id string, now time.Time) {
	p, ok := w.pending[id]
	if !ok {
		p.first = now
	}
	p.last = now
	w.pending[id] = p
}

// Prime records the current store state without emitting anything, so the
// first rescan only reports real changes.
func (w *Watcher) Prime(ctx context.Context) error {
	convs, err := w.store.ListRecentConversations(ctx, w.opts.ScanLimit)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = listing(convs)
	clear(w.reported)
	return nil
}

// Rescan compares the store against what was seen before and marks every
// new or updated conversation the notifier has not already reported. Ids
// missing from the listing are forgotten. It returns the number of marked ids.
func (w *Watcher) Rescan(ctx context.Context) (int, error) {
	convs, err := w.store.ListRecentConversations(ctx, w.opts.ScanLimit)
	if err != nil {
		return 0, err
	}
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	changed := 0
	for _, c := range convs {
		if prev, ok := w.seen[c.ID]; ok && prev.Equal(c.UpdatedAt) {
			continue
		}
		if at, ok := w.reported[c.ID]; ok && !c.UpdatedAt.After(at) {
			continue
		}
		w.mark(c.ID, now)
		changed++
	}
	w.seen = listing(convs)
	clear(w.reported)
	return changed, nil
}

func listing(convs []core.Conversation) map[string]time.Time {
	seen := make(map[string]time.Time, len(convs))
	for _, c := range convs {
		seen[c.ID] = c.UpdatedAt
	}
	return seen
}

// due removes and returns the ids whose debounce window has passed.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for id, p := range w.pending {
		if now.Sub(p.last) >= w.opts.Debounce || now.Sub(p.first) >= w.opts.MaxWait {
			ready = append(ready, id)
			delete(w.pending, id)
		}
	}
	return ready
}

func (w *Watcher) sweepInterval() time.Duration {
	return max(w.opts.Debounce/4, 5*time.Millisecond)
}

// Run processes signals and emits debounced ids until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	logger := log.Component(ctx, "watcher")

	signals := make(chan Signal, eventBuffer)
	var wg sync.WaitGroup
	defer wg.Wait()

	if w.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.superviseNotifier(ctx, signals)
		}()
	}

	ticker := time.NewTicker(w.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-signals:
			if sig.ConversationID != "" {
				w.Mark(sig.ConversationID)
				continue
			}
			if n, err := w.Rescan(ctx); err != nil {
				logger.Warn().Err(err).Msg("rescan failed")
			} else if n > 0 {
				logger.Debug().Int("changed", n).Msg("rescan found changes")
			}

		case now := <-ticker.C:
			for _, id := range w.due(now) {
				select {
				case w.events <- id:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *Watcher) superviseNotifier(ctx context.Context, signals chan Signal) {
	logger := log.Component(ctx, "watcher")

	for {
		w.healthy.Store(true)
		err := w.notifier.Notify(ctx, signals)
		w.healthy.Store(false)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errNotifierStopped
		}

		logger.Error().Err(&core.WatchError{Err: err}).
			Dur("restart_in", w.opts.RestartDelay).
			Msg("change notifications unavailable, falling back to rescans")

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.RestartDelay):
		}

		// catch up on whatever changed while notifications were down
		select {
		case signals <- Signal{}:
		case <-ctx.Done():
			return
		}
	}
}
