package stage

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/writefactory/internal/cache"
	"github.com/lucasnoah/writefactory/internal/provider"
	"github.com/lucasnoah/writefactory/internal/retry"
)

// --- Mock provider ---

// scriptedProvider returns errs[i] on call i, then succeeds.
type scriptedProvider struct {
	id    string
	errs  []error
	calls atomic.Int32
	block chan struct{} // when set, each call waits on it or ctx
}

func (s *scriptedProvider) ID() string                      { return s.id }
func (s *scriptedProvider) Capability() provider.Capability { return provider.Text }

func (s *scriptedProvider) Call(ctx context.Context, req provider.Request) (provider.Response, error) {
	n := int(s.calls.Add(1)) - 1
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		}
	}
	if n < len(s.errs) {
		return provider.Response{}, s.errs[n]
	}
	return provider.Response{Text: "out:" + req.Prompt + ":" + req.Params["temperature"]}, nil
}

// --- Test helpers ---

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func setupExecutor(t *testing.T, providers ...provider.Provider) (*Executor, *provider.Pool, *sleepRecorder) {
	t.Helper()
	pool := provider.NewPool(provider.PoolOptions{FailureThreshold: 5, Cooldown: time.Minute}, zerolog.Nop())
	for _, p := range providers {
		require.NoError(t, pool.Register(p, 1, provider.Params{"temperature": "0.5"}))
	}
	c := cache.New(cache.Options{Capacity: 100, TTL: time.Hour}, zerolog.Nop())
	e := NewExecutor(pool, c, retry.Default(), zerolog.Nop())
	rec := &sleepRecorder{}
	e.SetSleeper(rec.sleep)
	return e, pool, rec
}

func rateLimited() error {
	return &provider.Error{Kind: provider.KindRateLimited, StatusCode: 429}
}

func TestExecute_RateLimitedThenSuccess(t *testing.T) {
	p := &scriptedProvider{id: "main", errs: []error{rateLimited(), rateLimited()}}
	e, _, rec := setupExecutor(t, p)

	var retries []RetryEvent
	res, err := e.Execute(context.Background(), Call{
		Step:       "title",
		Capability: provider.Text,
		Prompt:     "p",
		OnRetry:    func(ev RetryEvent) { retries = append(retries, ev) },
	})
	require.NoError(t, err)
	assert.Equal(t, "out:p:0.5", res.Response.Text)
	assert.Equal(t, "main", res.Response.Provider)
	assert.Equal(t, 3, res.Attempts)
	assert.False(t, res.Cached)
	assert.Len(t, rec.delays, 2)
	for _, d := range rec.delays {
		assert.Positive(t, d)
	}
	require.Len(t, retries, 2)
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, 2, retries[1].Attempt)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	p := &scriptedProvider{id: "main", errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	e, _, rec := setupExecutor(t, p)

	_, err := e.Execute(context.Background(), Call{Step: "title", Capability: provider.Text, Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 3, p.calls.Load())
	assert.Len(t, rec.delays, 2)
}

func TestExecute_PermanentNotRetried(t *testing.T) {
	p := &scriptedProvider{id: "main", errs: []error{&provider.Error{Kind: provider.KindAuth, StatusCode: 401}}}
	e, pool, rec := setupExecutor(t, p)

	_, err := e.Execute(context.Background(), Call{Step: "title", Capability: provider.Text, Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, provider.KindAuth, provider.KindOf(err))
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 1, p.calls.Load())
	assert.Empty(t, rec.delays)
	assert.Equal(t, 1, pool.Snapshot()[0].ConsecutiveFailures)
}

func TestExecute_FallsBackAcrossProviders(t *testing.T) {
	bad := &scriptedProvider{id: "bad", errs: []error{rateLimited(), rateLimited(), rateLimited()}}
	good := &scriptedProvider{id: "good"}
	pool := provider.NewPool(provider.PoolOptions{FailureThreshold: 1, Cooldown: time.Minute}, zerolog.Nop())
	require.NoError(t, pool.Register(bad, 1000, nil))
	require.NoError(t, pool.Register(good, 1, nil))
	e := NewExecutor(pool, nil, retry.Default(), zerolog.Nop())
	e.SetSleeper(func(context.Context, time.Duration) error { return nil })

	res, err := e.Execute(context.Background(), Call{Step: "lead", Capability: provider.Text, Prompt: "p", Preferred: "bad"})
	require.NoError(t, err)
	assert.Equal(t, "good", res.Response.Provider)
	assert.EqualValues(t, 1, bad.calls.Load(), "circuit opened after one failure")
}

func TestExecute_NoProvider(t *testing.T) {
	e, _, _ := setupExecutor(t)
	_, err := e.Execute(context.Background(), Call{Step: "images", Capability: provider.Image, Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNoProvider)
	assert.Equal(t, provider.KindNoProvider, provider.KindOf(err))
}

func TestExecute_CacheHitSkipsProvider(t *testing.T) {
	p := &scriptedProvider{id: "main"}
	e, _, _ := setupExecutor(t, p)
	call := Call{Step: "title", Capability: provider.Text, Prompt: "same", Params: provider.Params{"step": "title"}}

	first, err := e.Execute(context.Background(), call)
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), call)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Response, second.Response)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestExecute_ConcurrentSameKeyCallsOnce(t *testing.T) {
	p := &scriptedProvider{id: "main", block: make(chan struct{})}
	e, _, _ := setupExecutor(t, p)
	call := Call{Step: "body", Capability: provider.Text, Prompt: "identical section"}

	var wg sync.WaitGroup
	out := make([]string, 8)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Execute(context.Background(), call)
			assert.NoError(t, err)
			out[i] = res.Response.Text
		}(i)
	}
	require.Eventually(t, func() bool {
		s := e.cache.Stats()
		return s.Misses+s.Shared == 8
	}, time.Second, time.Millisecond)
	close(p.block)
	wg.Wait()

	assert.EqualValues(t, 1, p.calls.Load())
	for _, o := range out {
		assert.Equal(t, out[0], o)
	}
}

func TestExecute_CancelInterruptsCall(t *testing.T) {
	p := &scriptedProvider{id: "main", block: make(chan struct{})}
	e, _, _ := setupExecutor(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, Call{Step: "body", Capability: provider.Text, Prompt: "p"})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.Equal(t, provider.KindCancelled, provider.KindOf(err))
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("execute did not return after cancel")
	}
}

func TestExecute_CancelAbortsBackoff(t *testing.T) {
	p := &scriptedProvider{id: "main", errs: []error{rateLimited(), rateLimited()}}
	pool := provider.NewPool(provider.PoolOptions{FailureThreshold: 5}, zerolog.Nop())
	require.NoError(t, pool.Register(p, 1, nil))
	e := NewExecutor(pool, nil, retry.Policy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 3}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for p.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	start := time.Now()
	_, err := e.Execute(ctx, Call{Step: "body", Capability: provider.Text, Prompt: "p"})
	assert.Equal(t, provider.KindCancelled, provider.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_ProgressWriter(t *testing.T) {
	p := &scriptedProvider{id: "main", errs: []error{rateLimited()}}
	e, _, _ := setupExecutor(t, p)
	var buf bytes.Buffer
	e.SetProgress(&buf)
	call := Call{Step: "title", Capability: provider.Text, Prompt: "p"}

	_, err := e.Execute(context.Background(), call)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), call)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "title: main failed (rate_limited), retrying in")
	assert.Contains(t, out, "title: served from cache")
}
