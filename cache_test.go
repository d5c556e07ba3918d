package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCache(t *testing.T) {
	c := New[string, int](3, NoExpiration, 0)

	_, found := c.Get("a")
	require.False(t, found)

	c.Set("a", 1, DefaultExpiration)
	c.SetDefault("b", 2)
	v, found := c.Get("a")
	require.True(t, found)
	require.Equal(t, 1, v)
	require.Equal(t, 2, c.ItemCount())
	require.Equal(t, 3, c.Capacity())

	c.Set("a", 10, DefaultExpiration)
	v, _ = c.Get("a")
	require.Equal(t, 10, v)
	require.Equal(t, 2, c.ItemCount())
}

func TestDefaultCapacity(t *testing.T) {
	c := New[int, int](0, NoExpiration, 0)
	require.Equal(t, DefaultCapacity, c.Capacity())

	for i := 0; i < DefaultCapacity+5; i++ {
		c.Set(i, i, DefaultExpiration)
		require.LessOrEqual(t, c.ItemCount(), DefaultCapacity)
	}
	require.Equal(t, DefaultCapacity, c.ItemCount())
}

func TestEvictLRU(t *testing.T) {
	c := New[string, int](2, NoExpiration, 0)
	var evicted []string
	c.OnEvicted(func(k string, _ int) {
		evicted = append(evicted, k)
	})

	require.NoError(t, c.Add("a", 1, DefaultExpiration))
	require.NoError(t, c.Add("b", 2, DefaultExpiration))
	// Touch a so that b becomes least recently used.
	_, found := c.Get("a")
	require.True(t, found)

	require.NoError(t, c.Add("c", 3, DefaultExpiration))
	require.Equal(t, 2, c.ItemCount())
	require.Equal(t, []string{"b"}, evicted)
	require.Equal(t, uint64(1), c.Evictions())

	_, found = c.Get("b")
	require.False(t, found)
	_, found = c.Get("a")
	require.True(t, found)
	_, found = c.Get("c")
	require.True(t, found)
}

func TestPeekDoesNotTouchRecency(t *testing.T) {
	c := New[string, int](2, NoExpiration, 0)
	c.Set("a", 1, DefaultExpiration)
	c.Set("b", 2, DefaultExpiration)

	v, found := c.Peek("a")
	require.True(t, found)
	require.Equal(t, 1, v)

	c.Set("c", 3, DefaultExpiration)
	_, found = c.Peek("a")
	require.False(t, found, "a was least recently used")
	_, found = c.Peek("b")
	require.True(t, found)
}

func TestDeclineWhenFull(t *testing.T) {
	c := New[string, int](2, NoExpiration, 0)
	c.SetPolicy(DeclineWhenFull)
	require.Equal(t, DeclineWhenFull, c.Policy())

	require.NoError(t, c.Add("a", 1, DefaultExpiration))
	require.NoError(t, c.Add("b", 2, DefaultExpiration))

	err := c.Add("c", 3, DefaultExpiration)
	require.ErrorIs(t, err, ErrFull)
	require.Equal(t, errors.CodeConflict, errors.GetCode(err))

	c.Set("d", 4, DefaultExpiration)
	require.Equal(t, 2, c.ItemCount())
	_, found := c.Get("c")
	require.False(t, found)
	_, found = c.Get("d")
	require.False(t, found)
	require.Zero(t, c.Evictions())

	// Existing keys can still be overwritten.
	c.Set("a", 5, DefaultExpiration)
	v, _ := c.Get("a")
	require.Equal(t, 5, v)
}

func TestDeclineWhenFullReclaimsExpired(t *testing.T) {
	c := New[string, int](1, NoExpiration, 0)
	c.SetPolicy(DeclineWhenFull)

	require.NoError(t, c.Add("a", 1, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Add("b", 2, DefaultExpiration))

	_, found := c.Get("b")
	require.True(t, found)
	require.Equal(t, 1, c.ItemCount())
}

func TestAddExisting(t *testing.T) {
	c := New[string, string](0, NoExpiration, 0)
	require.NoError(t, c.Add("k", "first", DefaultExpiration))

	err := c.Add("k", "second", DefaultExpiration)
	require.ErrorIs(t, err, ErrExists)
	require.Equal(t, errors.CodeAlreadyExists, errors.GetCode(err))

	v, _ := c.Get("k")
	require.Equal(t, "first", v)
}

func TestReplace(t *testing.T) {
	c := New[string, int](0, NoExpiration, 0)
	err := c.Replace("k", 1, DefaultExpiration)
	require.Error(t, err)
	require.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	c.Set("k", 1, DefaultExpiration)
	require.NoError(t, c.Replace("k", 2, DefaultExpiration))
	v, _ := c.Get("k")
	require.Equal(t, 2, v)
}

func TestExpiration(t *testing.T) {
	c := New[string, int](0, 20*time.Millisecond, 0)
	c.Set("default", 1, DefaultExpiration)
	c.Set("forever", 2, NoExpiration)

	_, exp, found := c.GetWithExpiration("default")
	require.True(t, found)
	require.False(t, exp.IsZero())
	_, exp, found = c.GetWithExpiration("forever")
	require.True(t, found)
	require.True(t, exp.IsZero())

	time.Sleep(40 * time.Millisecond)

	_, found = c.Get("default")
	require.False(t, found)
	_, found = c.Get("forever")
	require.True(t, found)
	require.Len(t, c.Items(), 1)

	// Expired items are only removed by DeleteExpired or a janitor.
	require.Equal(t, 2, c.ItemCount())
	c.DeleteExpired()
	require.Equal(t, 1, c.ItemCount())

	// An expired key may be added again.
	c.Set("again", 3, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Add("again", 4, NoExpiration))
	v, _ := c.Get("again")
	require.Equal(t, 4, v)
}

func TestJanitor(t *testing.T) {
	c := New[string, int](0, 5*time.Millisecond, time.Millisecond)
	c.Set("a", 1, DefaultExpiration)

	require.Eventually(t, func() bool {
		return c.ItemCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDeleteAndFlush(t *testing.T) {
	c := New[string, int](0, NoExpiration, 0)
	var evicted []string
	c.OnEvicted(func(k string, _ int) {
		evicted = append(evicted, k)
	})

	c.Set("a", 1, DefaultExpiration)
	c.Set("b", 2, DefaultExpiration)
	c.Delete("a")
	c.Delete("missing")
	require.Equal(t, []string{"a"}, evicted)
	require.Equal(t, 1, c.ItemCount())

	c.Flush()
	require.Zero(t, c.ItemCount())
	require.Empty(t, c.Items())

	// The cache is usable after a flush.
	c.Set("c", 3, DefaultExpiration)
	_, found := c.Get("c")
	require.True(t, found)
}

func TestConcurrentAccess(t *testing.T) {
	const capacity = 16
	c := New[int, string](capacity, NoExpiration, 0)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				k := (w*200 + i) % 40
				want := fmt.Sprint(k)
				c.Set(k, want, DefaultExpiration)
				if v, found := c.Get(k); found && v != want {
					return fmt.Errorf("key %d: got %q", k, v)
				}
				if n := c.ItemCount(); n > capacity {
					return fmt.Errorf("cache grew to %d items", n)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.LessOrEqual(t, c.ItemCount(), capacity)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("LRU")
	require.NoError(t, err)
	require.Equal(t, EvictLRU, p)

	p, err = ParsePolicy(" decline ")
	require.NoError(t, err)
	require.Equal(t, DeclineWhenFull, p)
	require.Equal(t, "decline", p.String())

	_, err = ParsePolicy("fifo")
	require.Error(t, err)
	require.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}
