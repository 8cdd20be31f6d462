package cmab

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_LookupAndSave(t *testing.T) {
	t.Parallel()

	t.Run("miss on empty cache", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, string](10, time.Minute)
		_, ok := c.Lookup("absent")
		assert.False(t, ok)
	})

	t.Run("save then lookup", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, string](10, time.Minute)
		c.Save("k1", "v1")

		got, ok := c.Lookup("k1")
		require.True(t, ok)
		assert.Equal(t, "v1", got)
	})

	t.Run("save replaces existing value", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, string](10, time.Minute)
		c.Save("k1", "old")
		c.Save("k1", "new")

		got, ok := c.Lookup("k1")
		require.True(t, ok)
		assert.Equal(t, "new", got)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("zero capacity disables storage", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, string](0, time.Minute)
		c.Save("k1", "v1")

		_, ok := c.Lookup("k1")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})
}

func TestLRU_Eviction(t *testing.T) {
	t.Parallel()

	t.Run("evicts the least recently used entry", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, int](3, time.Minute)
		c.Save("a", 1)
		c.Save("b", 2)
		c.Save("c", 3)

		// Saving a fourth entry evicts "a", the oldest untouched one.
		c.Save("d", 4)

		_, ok := c.Lookup("a")
		assert.False(t, ok, "oldest entry should have been evicted")
		for _, key := range []string{"b", "c", "d"} {
			_, ok := c.Lookup(key)
			assert.True(t, ok, "entry %q should have survived", key)
		}
	})

	t.Run("lookup refreshes recency and protects from eviction", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, int](3, time.Minute)
		c.Save("a", 1)
		c.Save("b", 2)
		c.Save("c", 3)

		// Touching "a" makes "b" the LRU entry.
		_, ok := c.Lookup("a")
		require.True(t, ok)

		c.Save("d", 4)

		_, ok = c.Lookup("a")
		assert.True(t, ok, "recently used entry must survive")
		_, ok = c.Lookup("b")
		assert.False(t, ok, "least recently used entry must be evicted")
	})
}

func TestLRU_Timeout(t *testing.T) {
	t.Parallel()

	t.Run("entries expire after the timeout", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, int](10, time.Minute)

		// Drive the clock manually instead of sleeping.
		current := time.Unix(1000, 0)
		c.now = func() time.Time { return current }

		c.Save("k1", 1)

		current = current.Add(59 * time.Second)
		_, ok := c.Lookup("k1")
		assert.True(t, ok, "entry should still be live just before the timeout")

		current = current.Add(2 * time.Minute)
		_, ok = c.Lookup("k1")
		assert.False(t, ok, "entry should have expired")
		assert.Equal(t, 0, c.Len(), "expired entry should be reaped on sight")
	})

	t.Run("lookup extends the entry's life", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, int](10, time.Minute)
		current := time.Unix(1000, 0)
		c.now = func() time.Time { return current }

		c.Save("k1", 1)

		// Touch every 40s; the 1m timeout never elapses between touches.
		for i := 0; i < 5; i++ {
			current = current.Add(40 * time.Second)
			_, ok := c.Lookup("k1")
			require.True(t, ok, "touch %d should keep the entry alive", i)
		}
	})

	t.Run("zero timeout disables expiry", func(t *testing.T) {
		t.Parallel()

		c := NewLRU[string, int](10, 0)
		current := time.Unix(1000, 0)
		c.now = func() time.Time { return current }

		c.Save("k1", 1)
		current = current.Add(1000 * time.Hour)

		_, ok := c.Lookup("k1")
		assert.True(t, ok)
	})
}

func TestLRU_RemoveAndReset(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](10, time.Minute)
	c.Save("a", 1)
	c.Save("b", 2)

	c.Remove("a")
	_, ok := c.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	// Removing an absent key is a no-op.
	c.Remove("nope")
	assert.Equal(t, 1, c.Len())

	c.Reset()
	_, ok = c.Lookup("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](100, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k-%d", i%150)
				switch i % 4 {
				case 0:
					c.Save(key, i)
				case 1:
					c.Lookup(key)
				case 2:
					c.Remove(key)
				default:
					c.Len()
				}
			}
		}(g)
	}
	wg.Wait()

	// The invariant under concurrency is bounded size, not specific content.
	assert.LessOrEqual(t, c.Len(), 100)
}
