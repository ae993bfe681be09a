package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/writefactory/internal/cache"
	"github.com/lucasnoah/writefactory/internal/provider"
	"github.com/lucasnoah/writefactory/internal/retry"
)

// ErrRetriesExhausted wraps the last transient error once the retry policy
// gives up on it.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Executor runs one provider call for a step: cache lookup, then on a miss
// provider selection and the retry loop, then cache store.
type Executor struct {
	pool     *provider.Pool
	cache    *cache.Cache
	policy   retry.Policy
	sleep    retry.Sleeper
	log      zerolog.Logger
	progress io.Writer // live progress output; nil = silent
}

// NewExecutor creates a step executor. c may be nil to disable caching.
func NewExecutor(pool *provider.Pool, c *cache.Cache, policy retry.Policy, log zerolog.Logger) *Executor {
	return &Executor{
		pool:   pool,
		cache:  c,
		policy: policy,
		sleep:  retry.Wait,
		log:    log.With().Str("component", "executor").Logger(),
	}
}

// SetSleeper overrides the backoff wait (for testing).
func (e *Executor) SetSleeper(s retry.Sleeper) {
	e.sleep = s
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Executor) SetProgress(w io.Writer) {
	e.progress = w
}

func (e *Executor) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Call is one unit of provider work.
type Call struct {
	Step       string
	Capability provider.Capability
	System     string
	Prompt     string
	Params     provider.Params
	Preferred  string        // provider id to pin, if selectable
	TTL        time.Duration // cache TTL; zero uses the cache default
	OnRetry    func(RetryEvent)
}

// RetryEvent describes a failed attempt that will be retried.
type RetryEvent struct {
	Step     string
	Attempt  int
	Provider string
	Delay    time.Duration
	Err      error
}

// Result is the outcome of Execute.
type Result struct {
	Response provider.Response
	Cached   bool
	Attempts int
}

// Execute runs c. Concurrent calls with the same cache key share one
// provider call. Transient failures are retried per the policy; permanent
// ones and exhausted retries are returned.
func (e *Executor) Execute(ctx context.Context, c Call) (Result, error) {
	if e.cache == nil {
		resp, n, err := e.callWithRetry(ctx, c)
		return Result{Response: resp, Attempts: n}, err
	}

	target := cache.PoolTarget(c.Capability)
	if c.Preferred != "" {
		target = c.Preferred
	}
	key := cache.NewKey(target, c.System+"\n---\n"+c.Prompt, c.Params)

	var attempts atomic.Int32
	raw, cached, err := e.cache.Do(ctx, key, c.TTL, func(ctx context.Context) ([]byte, error) {
		resp, n, err := e.callWithRetry(ctx, c)
		attempts.Store(int32(n))
		if err != nil {
			return nil, err
		}
		return sonic.Marshal(resp)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, provider.Classify(ctx.Err())
		}
		return Result{}, err
	}

	var resp provider.Response
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return Result{}, &provider.Error{Kind: provider.KindContract, Err: fmt.Errorf("decode cached response: %w", err)}
	}
	if cached {
		e.log.Debug().Str("step", c.Step).Str("key", string(key)).Msg("cache hit")
		e.logf("%s: served from cache", c.Step)
	}
	return Result{Response: resp, Cached: cached, Attempts: int(attempts.Load())}, nil
}

func (e *Executor) callWithRetry(ctx context.Context, c Call) (provider.Response, int, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return provider.Response{}, attempt - 1, provider.Classify(err)
		}
		sel, err := e.pool.SelectPreferred(c.Capability, c.Preferred)
		if err != nil {
			return provider.Response{}, attempt, fmt.Errorf("step %s: %w", c.Step, err)
		}
		id := sel.Descriptor.ID
		req := provider.Request{System: c.System, Prompt: c.Prompt, Params: sel.Params.Merge(c.Params)}

		resp, err := sel.Provider.Call(ctx, req)
		if err == nil {
			e.pool.ReportSuccess(id)
			if resp.Provider == "" {
				resp.Provider = id
			}
			return resp, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provider.Response{}, attempt, provider.Classify(ctxErr)
		}

		perr := provider.Classify(err)
		if perr.Provider == "" {
			perr.Provider = id
		}
		e.pool.ReportFailure(id, perr)

		d := e.policy.Decide(perr, attempt)
		if d.GiveUp() {
			if perr.Kind.Transient() {
				e.log.Warn().Str("step", c.Step).Str("provider", id).Int("attempts", attempt).Err(perr).Msg("giving up")
				return provider.Response{}, attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, perr)
			}
			return provider.Response{}, attempt, perr
		}

		e.log.Warn().
			Str("step", c.Step).
			Str("provider", id).
			Int("attempt", attempt).
			Dur("delay", d.After).
			Err(perr).
			Msg("retrying")
		e.logf("%s: %s failed (%s), retrying in %s", c.Step, id, perr.Kind, d.After.Round(time.Millisecond))
		if c.OnRetry != nil {
			c.OnRetry(RetryEvent{Step: c.Step, Attempt: attempt, Provider: id, Delay: d.After, Err: perr})
		}
		if err := e.sleep(ctx, d.After); err != nil {
			return provider.Response{}, attempt, provider.Classify(err)
		}
	}
}
