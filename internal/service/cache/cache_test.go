package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string) core.ContextRecord {
	return core.ContextRecord{
		ConversationID: id,
		Summary:        "summary " + id,
		KeyDecisions:   []string{"decided " + id},
		ProjectInfo:    map[string]string{"name": id},
	}
}

func TestNew_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestResultCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	const capacity = 3
	c, err := New(capacity)
	require.NoError(t, err)

	for i := 0; i < capacity; i++ {
		c.Put(fmt.Sprintf("k%d", i), record(fmt.Sprintf("c%d", i)))
	}

	// k0 becomes the most recent, leaving k1 as the oldest access
	_, ok := c.Get("k0")
	require.True(t, ok)

	evicted := c.Put("k3", record("c3"))
	assert.True(t, evicted)

	_, ok = c.Peek("k1")
	assert.False(t, ok)
	for _, k := range []string{"k0", "k2", "k3"} {
		_, ok := c.Peek(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, capacity, c.Len())
	assert.Equal(t, []string{"k2", "k0", "k3"}, c.Keys())
}

func TestResultCache_InsertionOrderBreaksTies(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Put("a", record("a"))
	c.Put("b", record("b"))
	c.Put("c", record("c"))

	assert.Equal(t, []string{"b", "c"}, c.Keys())
}

func TestResultCache_NeverExceedsCapacity(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("k%d", i), record("x"))
		assert.LessOrEqual(t, c.Len(), 10)
	}
	assert.NoError(t, c.EvictIfNeeded())

	st := c.Stats()
	assert.Equal(t, 10, st.Entries)
	assert.Equal(t, int64(90), st.Evictions)
}

func TestResultCache_PeekDoesNotTouchRecency(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Put("a", record("a"))
	c.Put("b", record("b"))
	_, _ = c.Peek("a")
	c.Put("c", record("c"))

	_, ok := c.Peek("a")
	assert.False(t, ok)
}

func TestResultCache_ReturnsCopies(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	rec := record("a")
	c.Put("a", rec)
	rec.KeyDecisions[0] = "mutated by caller"

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "decided a", got.KeyDecisions[0])

	got.ProjectInfo["name"] = "mutated"
	again, _ := c.Get("a")
	assert.Equal(t, "a", again.ProjectInfo["name"])
}

func TestResultCache_Stats(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("a", record("a"))
	_, _ = c.Get("a")
	c.Put("a", record("a"))
	c.Put("b", record("b"))

	st := c.Stats()
	assert.Equal(t, Stats{
		Entries:     1,
		Capacity:    1,
		Hits:        1,
		Misses:      1,
		Evictions:   1,
		ApproxBytes: entrySize("b", record("b")),
	}, st)

	c.Purge()
	assert.Equal(t, int64(0), c.Stats().ApproxBytes)
	assert.Equal(t, 0, c.Len())
}

func TestResultCache_Remove(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Put("a", record("a"))
	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, int64(0), c.Stats().ApproxBytes)
}

func TestResultCache_ConcurrentAccess(t *testing.T) {
	c, err := New(16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%40)
				if _, ok := c.Get(key); !ok {
					c.Put(key, record(key))
				}
				_ = c.Stats()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
	assert.NoError(t, c.EvictIfNeeded())
}
