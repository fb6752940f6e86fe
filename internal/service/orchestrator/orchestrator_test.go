package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/internal/service/aggregator"
	"github.com/sandevgo/contextd/internal/service/cache"
	"github.com/sandevgo/contextd/internal/service/extractor"
	"github.com/sandevgo/contextd/internal/service/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu    sync.Mutex
	convs map[string]core.Conversation
}

func newMemStore(convs ...core.Conversation) *memStore {
	s := &memStore{convs: make(map[string]core.Conversation)}
	for _, c := range convs {
		s.put(c)
	}
	return s
}

func (s *memStore) put(c core.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c
}

func (s *memStore) ListRecentConversations(_ context.Context, limit int) ([]core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b core.Conversation) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), strings.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LoadConversation(_ context.Context, id string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	return &c, nil
}

type countingExtractor struct {
	inner *extractor.Extractor
	calls atomic.Int32
	panic string
}

func (e *countingExtractor) Extract(c core.Conversation) core.ContextRecord {
	e.calls.Add(1)
	if e.panic != "" && c.ID == e.panic {
		panic("malformed conversation")
	}
	return e.inner.Extract(c)
}

type recordingPublisher struct {
	mu      sync.Mutex
	digests []core.Digest
	fail    int
	gate    chan struct{}
	entered chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func (p *recordingPublisher) Publish(ctx context.Context, d core.Digest) error {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		m := p.maxActive.Load()
		if n <= m || p.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return &core.PublishError{Path: "CONTEXT.md", Attempts: 3, Err: errors.New("disk full")}
	}
	p.digests = append(p.digests, d)
	return nil
}

func (p *recordingPublisher) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.digests) == 0 {
		return "", false
	}
	return p.digests[len(p.digests)-1].Checksum, true
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.digests)
}

func (p *recordingPublisher) last() core.Digest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.digests[len(p.digests)-1]
}

type fakeWatcher struct {
	events chan string
}

func (w *fakeWatcher) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (w *fakeWatcher) Prime(context.Context) error { return nil }
func (w *fakeWatcher) Events() <-chan string       { return w.events }
func (w *fakeWatcher) Healthy() bool               { return true }

type fixture struct {
	store     *memStore
	extractor *countingExtractor
	cache     *cache.ResultCache
	publisher *recordingPublisher
	deps      Deps
	opts      Options
	orch      *Orchestrator
}

func newFixture(t *testing.T, opts Options, w Watcher, convs ...core.Conversation) *fixture {
	t.Helper()

	c, err := cache.New(100)
	require.NoError(t, err)

	exOpts := extractor.DefaultOptions()
	exOpts.Clock = func() time.Time { return t0 }

	f := &fixture{
		store:     newMemStore(convs...),
		extractor: &countingExtractor{inner: extractor.New(exOpts)},
		cache:     c,
		publisher: &recordingPublisher{},
	}
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return t0 }
	}

	deps := Deps{
		Store:      f.store,
		Extractor:  f.extractor,
		Cache:      f.cache,
		Aggregator: aggregator.New(aggregator.Options{MaxContextLength: 16000, MinRelevanceScore: 0}),
		Publisher:  f.publisher,
	}
	if w != nil {
		deps.Watcher = w
	}
	f.deps, f.opts = deps, opts
	f.orch = New(deps, opts)
	return f
}

func conversation(id, text string, updated time.Time) core.Conversation {
	return core.Conversation{
		ID:        id,
		Title:     "Conversation " + id,
		UpdatedAt: updated,
		Messages:  []core.Message{{Role: core.RoleUser, Content: core.TextContent(text)}},
	}
}

func startOrchestrator(t *testing.T, o *Orchestrator) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- o.Start(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestRunOnce_PublishesRankedDigest(t *testing.T) {
	f := newFixture(t, Options{}, nil,
		conversation("low", "hello there", t0.Add(time.Hour)),
		conversation("high", "We decided this is a critical blocker", t0),
	)

	require.NoError(t, f.orch.RunOnce(context.Background()))

	require.Equal(t, 1, f.publisher.count())
	d := f.publisher.last()
	assert.Equal(t, []string{"high", "low"}, d.IncludedConversationIDs)
	assert.LessOrEqual(t, len(d.Body), 16000)

	st := f.orch.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, int64(1), st.Cycles)
	assert.Equal(t, d.Checksum, st.LastChecksum)
	assert.Equal(t, d.TotalBytes, st.LastDigestSize)
	assert.Equal(t, []string{"high", "low"}, st.Included)
	assert.Equal(t, 2, st.Cache.Entries)
}

func TestRunOnce_CacheSkipsUnchangedConversations(t *testing.T) {
	f := newFixture(t, Options{}, nil,
		conversation("a", "We decided on redis", t0),
		conversation("b", "the api is slow", t0),
	)
	ctx := context.Background()

	require.NoError(t, f.orch.RunOnce(ctx))
	assert.Equal(t, int32(2), f.extractor.calls.Load())

	require.NoError(t, f.orch.RunOnce(ctx))
	assert.Equal(t, int32(2), f.extractor.calls.Load(), "unchanged content must not be extracted again")

	f.store.put(conversation("b", "the api is fast now", t0.Add(time.Minute)))
	require.NoError(t, f.orch.RunOnce(ctx))
	assert.Equal(t, int32(3), f.extractor.calls.Load())
	assert.Equal(t, int64(3), f.cache.Stats().Hits)
}

func TestRunOnce_SharedContentKeepsIdentity(t *testing.T) {
	f := newFixture(t, Options{Workers: 1}, nil,
		conversation("a", "We decided on redis", t0),
		conversation("b", "We decided on redis", t0.Add(time.Minute)),
	)

	require.NoError(t, f.orch.RunOnce(context.Background()))
	assert.Equal(t, int32(1), f.extractor.calls.Load())
	assert.ElementsMatch(t, []string{"a", "b"}, f.publisher.last().IncludedConversationIDs)
}

func TestCycle_SkipsUnchangedDigest(t *testing.T) {
	f := newFixture(t, Options{}, nil, conversation("a", "We decided on redis", t0))
	ctx := context.Background()

	require.NoError(t, f.orch.runCycle(ctx, false))
	require.NoError(t, f.orch.runCycle(ctx, false))
	assert.Equal(t, 1, f.publisher.count())

	f.store.put(conversation("a", "We decided on postgres", t0.Add(time.Minute)))
	require.NoError(t, f.orch.runCycle(ctx, false))
	assert.Equal(t, 2, f.publisher.count())
}

func TestRunOnce_PanickingExtractionIsExcluded(t *testing.T) {
	f := newFixture(t, Options{}, nil,
		conversation("good", "We decided on redis", t0),
		conversation("bad", "boom", t0),
	)
	f.extractor.panic = "bad"

	require.NoError(t, f.orch.RunOnce(context.Background()))

	assert.Equal(t, []string{"good"}, f.publisher.last().IncludedConversationIDs)
	assert.Equal(t, 1, f.orch.Status().Excluded)
}

func TestRunOnce_PublishFailureLeavesIdle(t *testing.T) {
	f := newFixture(t, Options{}, nil, conversation("a", "We decided on redis", t0))
	f.publisher.fail = 1
	ctx := context.Background()

	err := f.orch.RunOnce(ctx)
	var pubErr *core.PublishError
	require.ErrorAs(t, err, &pubErr)

	st := f.orch.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, int64(1), st.FailedCycles)
	assert.Contains(t, st.LastError, "disk full")
	assert.Empty(t, st.LastChecksum)

	require.NoError(t, f.orch.RunOnce(ctx))
	st = f.orch.Status()
	assert.Empty(t, st.LastError)
	assert.Equal(t, int64(2), st.Cycles)
	assert.Equal(t, int64(1), st.FailedCycles)
}

func TestRunOnce_TokenCounter(t *testing.T) {
	f := newFixture(t, Options{TokenCounter: func(s string) int { return len(s) / 2 }}, nil,
		conversation("a", "We decided on redis", t0))

	require.NoError(t, f.orch.RunOnce(context.Background()))
	st := f.orch.Status()
	assert.Equal(t, st.LastDigestSize/2, st.LastDigestTokens)
}

func TestStart_CoalescesTriggers(t *testing.T) {
	f := newFixture(t, Options{}, nil, conversation("a", "We decided on redis", t0))
	f.publisher.gate = make(chan struct{})
	f.publisher.entered = make(chan struct{}, 1)

	startOrchestrator(t, f.orch)

	// the initial cycle is now blocked inside Publish
	<-f.publisher.entered
	assert.Equal(t, StatePublishing, f.orch.State())

	for i := 0; i < 5; i++ {
		require.NoError(t, f.orch.TriggerNow())
	}
	assert.True(t, f.orch.Status().PendingTrigger)

	close(f.publisher.gate)

	require.Eventually(t, func() bool { return f.publisher.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, f.publisher.count())
	assert.Equal(t, int32(1), f.publisher.maxActive.Load())
}

func TestStart_SingleFlight(t *testing.T) {
	f := newFixture(t, Options{}, nil, conversation("a", "We decided on redis", t0))
	startOrchestrator(t, f.orch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = f.orch.TriggerNow()
				_ = f.orch.RunOnce(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.publisher.maxActive.Load())
}

func TestShutdown_FinishesInFlightPublish(t *testing.T) {
	f := newFixture(t, Options{}, nil, conversation("a", "We decided on redis", t0))
	f.publisher.gate = make(chan struct{})
	f.publisher.entered = make(chan struct{}, 1)

	_, errCh := startOrchestrator(t, f.orch)
	<-f.publisher.entered
	require.NoError(t, f.orch.TriggerNow())

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- f.orch.Shutdown(context.Background()) }()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned while a publish was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.publisher.gate)
	require.NoError(t, <-shutdownDone)
	require.NoError(t, <-errCh)

	assert.Equal(t, 1, f.publisher.count(), "the in-flight write completes, the pending trigger is dropped")
	assert.Equal(t, StateStopped, f.orch.State())
	assert.False(t, f.orch.Status().PendingTrigger)
	assert.ErrorIs(t, f.orch.TriggerNow(), core.ErrStopped)
	assert.ErrorIs(t, f.orch.RunOnce(context.Background()), core.ErrStopped)
}

func TestStart_WatcherEventTriggersCycle(t *testing.T) {
	w := &fakeWatcher{events: make(chan string)}
	f := newFixture(t, Options{}, w, conversation("a", "We decided on redis", t0))

	startOrchestrator(t, f.orch)
	require.Eventually(t, func() bool { return f.publisher.count() == 1 }, time.Second, 5*time.Millisecond)

	f.store.put(conversation("b", "We decided on kafka", t0.Add(time.Minute)))
	w.events <- "b"

	require.Eventually(t, func() bool { return f.publisher.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b"}, f.publisher.last().IncludedConversationIDs)
	assert.True(t, f.orch.Status().WatcherHealthy)
}

func TestStart_ChangeOutsideRecentWindowIsNotExtracted(t *testing.T) {
	w := &fakeWatcher{events: make(chan string)}
	f := newFixture(t, Options{MaxConversations: 1}, w,
		conversation("new", "We decided on redis", t0.Add(time.Hour)),
		conversation("old", "We decided on kafka", t0),
	)

	startOrchestrator(t, f.orch)
	require.Eventually(t, func() bool { return f.orch.Status().Cycles == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.extractor.calls.Load())

	w.events <- "old"
	require.Eventually(t, func() bool { return f.orch.Status().Cycles == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), f.extractor.calls.Load())
	assert.Equal(t, []string{"new"}, f.publisher.last().IncludedConversationIDs)
	assert.Equal(t, 1, f.publisher.count())
}

func TestStart_TickRestoresMissingArtifact(t *testing.T) {
	f := newFixture(t, Options{Interval: 20 * time.Millisecond}, nil, conversation("a", "We decided on redis", t0))

	target := filepath.Join(t.TempDir(), "CONTEXT.md")
	deps := f.deps
	deps.Publisher = publisher.New(publisher.Options{TargetPath: target})
	o := New(deps, f.opts)
	startOrchestrator(t, o)

	exists := func() bool {
		_, err := os.Stat(target)
		return err == nil
	}
	require.Eventually(t, exists, time.Second, 5*time.Millisecond)
	published, err := os.ReadFile(target)
	require.NoError(t, err)

	require.NoError(t, os.Remove(target))
	require.Eventually(t, exists, time.Second, 5*time.Millisecond, "a tick must recreate the deleted artifact")

	require.NoError(t, os.WriteFile(target, []byte("replaced by hand\n"), 0o644))
	require.Eventually(t, func() bool {
		body, err := os.ReadFile(target)
		return err == nil && string(body) == string(published)
	}, time.Second, 5*time.Millisecond, "a tick must restore a foreign artifact")
}

func TestCycle_SkipsOnlyWhenArtifactMatches(t *testing.T) {
	f := newFixture(t, Options{}, nil, conversation("a", "We decided on redis", t0))
	ctx := context.Background()

	require.NoError(t, f.orch.runCycle(ctx, false))
	require.Equal(t, 1, f.publisher.count())

	// the artifact on disk no longer verifies
	f.publisher.mu.Lock()
	f.publisher.digests[0].Checksum = "foreign"
	f.publisher.mu.Unlock()

	require.NoError(t, f.orch.runCycle(ctx, false))
	assert.Equal(t, 2, f.publisher.count())

	require.NoError(t, f.orch.runCycle(ctx, false))
	assert.Equal(t, 2, f.publisher.count())
}

func TestStart_TickTriggersCycle(t *testing.T) {
	f := newFixture(t, Options{Interval: 20 * time.Millisecond}, nil, conversation("a", "We decided on redis", t0))
	startOrchestrator(t, f.orch)

	require.Eventually(t, func() bool { return f.publisher.count() == 1 }, time.Second, 5*time.Millisecond)
	f.store.put(conversation("a", "We decided on postgres", t0.Add(time.Minute)))
	require.Eventually(t, func() bool { return f.publisher.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	startOrchestrator(t, f.orch)
	require.Eventually(t, func() bool { return f.orch.Status().Cycles > 0 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.orch.Start(context.Background()), ErrAlreadyStarted)
}

func TestDisabled(t *testing.T) {
	f := newFixture(t, Options{Disabled: true}, nil, conversation("a", "We decided on redis", t0))

	assert.ErrorIs(t, f.orch.RunOnce(context.Background()), core.ErrGenerationDisabled)
	assert.ErrorIs(t, f.orch.TriggerNow(), core.ErrGenerationDisabled)

	cancel, errCh := startOrchestrator(t, f.orch)
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, 0, f.publisher.count())
	assert.Equal(t, StateStopped, f.orch.State())
	assert.False(t, f.orch.Status().GenerationEnabled)
}

func TestShutdown_BeforeStart(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	require.NoError(t, f.orch.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, f.orch.State())
	require.NoError(t, f.orch.Start(context.Background()))
}
