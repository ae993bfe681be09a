package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/writefactory/internal/provider"
)

func newTestCache(capacity int) *Cache {
	return New(Options{Capacity: capacity, TTL: time.Hour}, zerolog.Nop())
}

func TestNewKey_Normalizes(t *testing.T) {
	p := provider.Params{"step": "title", "temperature": "0.7"}
	a := NewKey("pool:text", "line one  \r\nline two\n\n", p)
	b := NewKey("pool:text", "line one\nline two", provider.Params{"temperature": "0.7", "step": "title"})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, NewKey("openai-main", "line one\nline two", p))
	assert.NotEqual(t, a, NewKey("pool:text", "line one\nline three", p))
	assert.NotEqual(t, a, NewKey("pool:text", "line one\nline two", provider.Params{"step": "lead"}))
}

func TestCache_GetPutExpiry(t *testing.T) {
	c := newTestCache(10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put(context.Background(), "k", []byte("v"), time.Minute)
	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(e.Value))
	assert.EqualValues(t, 1, e.Hits)

	now = now.Add(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry at its TTL boundary is absent")
	assert.Zero(t, c.Stats().Entries)
}

func TestCache_LRUEviction(t *testing.T) {
	c := newTestCache(2)
	ctx := context.Background()
	c.Put(ctx, "a", []byte("1"), 0)
	c.Put(ctx, "b", []byte("2"), 0)
	_, _ = c.Get("a") // a is now most recent
	c.Put(ctx, "c", []byte("3"), 0)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCache_DoSingleFlight(t *testing.T) {
	c := newTestCache(10)
	var calls int32
	release := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("shared"), nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.Do(context.Background(), "k", 0, fn)
			assert.NoError(t, err)
			results[i] = string(v)
		}(i)
	}
	// let every goroutine register before releasing the call
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Misses+s.Shared == n
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}

	v, cached, err := c.Do(context.Background(), "k", 0, fn)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "shared", string(v))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCache_DoSharesFailure(t *testing.T) {
	c := newTestCache(10)
	boom := errors.New("upstream 503")
	var calls int32
	release := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.Do(context.Background(), "k", 0, fn)
		}(i)
	}
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Misses+s.Shared == 5
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls)
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	_, ok := c.Get("k")
	assert.False(t, ok, "failures are not cached")
}

func TestCache_DoWaiterCancel(t *testing.T) {
	c := newTestCache(10)
	started := make(chan struct{})
	fnCancelled := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-ctx.Done()
		close(fnCancelled)
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Do(ctx, "k", 0, fn)
		errCh <- err
	}()
	<-started
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-fnCancelled:
	case <-time.After(time.Second):
		t.Fatal("shared call was not cancelled after its only waiter left")
	}

	// a later caller starts a fresh call
	v, cached, err := c.Do(context.Background(), "k", 0, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "fresh", string(v))
}

func TestCache_DoSurvivesOneWaiterLeaving(t *testing.T) {
	c := newTestCache(10)
	release := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		select {
		case <-release:
			return []byte("ok"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaverCtx, leave := context.WithCancel(context.Background())
	leaverErr := make(chan error, 1)
	go func() {
		_, _, err := c.Do(leaverCtx, "k", 0, fn)
		leaverErr <- err
	}()
	require.Eventually(t, func() bool { return c.Stats().Misses == 1 }, time.Second, time.Millisecond)

	stayerVal := make(chan string, 1)
	go func() {
		v, _, _ := c.Do(context.Background(), "k", 0, fn)
		stayerVal <- string(v)
	}()
	require.Eventually(t, func() bool { return c.Stats().Shared == 1 }, time.Second, time.Millisecond)

	leave()
	assert.ErrorIs(t, <-leaverErr, context.Canceled)
	close(release)
	assert.Equal(t, "ok", <-stayerVal)
}

func TestCache_InvalidateAndPurge(t *testing.T) {
	backend := &mapBackend{data: map[Key][]byte{}}
	c := New(Options{Capacity: 10, TTL: time.Hour, Backend: backend}, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.Put(ctx, Key(fmt.Sprint(i)), []byte("v"), 0)
	}
	assert.True(t, c.Invalidate(ctx, "0"))
	assert.False(t, c.Invalidate(ctx, "0"))
	assert.Equal(t, 2, c.Purge(ctx))
	assert.Zero(t, c.Stats().Entries)
	assert.Zero(t, backend.len(), "purge clears the shared backend too")

	var calls atomic.Int32
	v, hit, err := c.Do(ctx, "1", 0, func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", string(v))
	assert.EqualValues(t, 1, calls.Load(), "a purged key is recomputed, not refilled")
}

type mapBackend struct {
	mu   sync.Mutex
	data map[Key][]byte
	ttls map[Key]time.Duration
}

func (m *mapBackend) Get(_ context.Context, k Key) ([]byte, time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[k]
	return v, m.ttls[k], ok, nil
}

func (m *mapBackend) Set(_ context.Context, k Key, v []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[k] = v
	return nil
}

func (m *mapBackend) Delete(_ context.Context, k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, k)
	return nil
}

func (m *mapBackend) Purge(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.data)
	m.data = map[Key][]byte{}
	return n, nil
}

func (m *mapBackend) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func TestCache_BackendFill(t *testing.T) {
	backend := &mapBackend{data: map[Key][]byte{"k": []byte("from-backend")}}
	c := New(Options{Capacity: 4, Backend: backend}, zerolog.Nop())

	v, _, err := c.Do(context.Background(), "k", 0, func(context.Context) ([]byte, error) {
		t.Fatal("fn must not run when the backend has the value")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-backend", string(v))

	_, _, err = c.Do(context.Background(), "other", 0, func(context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "computed", string(backend.data["other"]))
}

func TestCache_BackendFillKeepsRemainingTTL(t *testing.T) {
	backend := &mapBackend{
		data: map[Key][]byte{"k": []byte("shared")},
		ttls: map[Key]time.Duration{"k": time.Minute},
	}
	c := New(Options{Capacity: 4, TTL: time.Hour, Backend: backend}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	v, _, err := c.Do(context.Background(), "k", 0, func(context.Context) ([]byte, error) {
		t.Fatal("fn must not run when the backend has the value")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "shared", string(v))

	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, time.Minute, e.TTL)

	now = now.Add(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok, "local copy expires with the shared entry")
}

func TestRedisBackend(t *testing.T) {
	url := os.Getenv("WRITEFACTORY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WRITEFACTORY_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rb, err := NewRedisBackend(ctx, url, fmt.Sprintf("writefactory:test:%d:", time.Now().UnixNano()))
	require.NoError(t, err)
	defer rb.Close()

	_, _, ok, err := rb.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rb.Set(ctx, "k", []byte("v"), time.Minute))
	v, remaining, ok, err := rb.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, time.Minute)

	require.NoError(t, rb.Delete(ctx, "k"))
	_, _, ok, err = rb.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rb.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, rb.Set(ctx, "b", []byte("2"), time.Minute))
	n, err := rb.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, _, ok, err = rb.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStats_HitRate(t *testing.T) {
	assert.Zero(t, Stats{}.HitRate())
	assert.InDelta(t, 0.75, Stats{Hits: 3, Misses: 1}.HitRate(), 1e-9)
}
