// Package cache is a content-addressed, TTL-bounded store of provider
// outputs with per-key single-flight.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one cached value.
type Entry struct {
	Key       Key           `json:"key"`
	Value     []byte        `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	Hits      int64         `json:"hits"`
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// Backend is a shared second-level store consulted on local misses.
// Get reports the entry's remaining lifetime; zero means unknown or
// unbounded.
type Backend interface {
	Get(ctx context.Context, key Key) (value []byte, remaining time.Duration, ok bool, err error)
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
	Purge(ctx context.Context) (int, error)
}

// Options configures a Cache.
type Options struct {
	Capacity int           // max local entries; <= 0 means 1024
	TTL      time.Duration // default TTL; <= 0 means 24h
	Backend  Backend       // optional
}

// Stats are cumulative counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Shared    int64 `json:"shared"`
	Evictions int64 `json:"evictions"`
}

// HitRate is hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

type call struct {
	done    chan struct{}
	value   []byte
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	ll       *list.List // front is most recently used
	items    map[Key]*list.Element
	calls    map[Key]*call
	capacity int
	ttl      time.Duration
	backend  Backend
	log      zerolog.Logger
	now      func() time.Time

	hits, misses, shared, evictions int64
}

// New creates a cache.
func New(opts Options, log zerolog.Logger) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Cache{
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
		calls:    make(map[Key]*call),
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		backend:  opts.Backend,
		log:      log.With().Str("component", "cache").Logger(),
		now:      time.Now,
	}
}

// DefaultTTL is the TTL used when callers pass zero.
func (c *Cache) DefaultTTL() time.Duration { return c.ttl }

// Get returns the live local entry for key. Expired entries are removed and
// reported absent.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Put stores value locally and, when configured, in the backend.
func (c *Cache) Put(ctx context.Context, key Key, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.putLocked(key, value, ttl)
	c.mu.Unlock()
	if c.backend != nil {
		if err := c.backend.Set(ctx, key, value, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", string(key)).Msg("backend set failed")
		}
	}
}

// Do returns the cached value for key or runs fn to produce it. Concurrent
// callers with the same key share one fn invocation and its outcome,
// including failure. Failures are not stored.
//
// fn runs detached from any single caller's context; it is cancelled only
// when every waiting caller has given up.
func (c *Cache) Do(ctx context.Context, key Key, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	c.mu.Lock()
	if e, ok := c.getLocked(key); ok {
		c.hits++
		v := e.Value
		c.mu.Unlock()
		return v, true, nil
	}
	cl, inflight := c.calls[key]
	if inflight {
		c.shared++
		cl.waiters++
	} else {
		c.misses++
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		cl = &call{done: make(chan struct{}), waiters: 1, cancel: cancel}
		c.calls[key] = cl
		go c.run(callCtx, key, ttl, cl, fn)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.value, false, cl.err
	case <-ctx.Done():
		c.leave(key, cl)
		return nil, false, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, key Key, ttl time.Duration, cl *call, fn func(context.Context) ([]byte, error)) {
	defer cl.cancel()
	defer close(cl.done)
	if ttl <= 0 {
		ttl = c.ttl
	}

	if c.backend != nil {
		v, remaining, ok, err := c.backend.Get(ctx, key)
		if err != nil {
			c.log.Warn().Err(err).Str("key", string(key)).Msg("backend get failed")
		}
		if ok {
			// A local copy never outlives the shared one.
			if remaining > 0 && remaining < ttl {
				ttl = remaining
			}
			c.mu.Lock()
			c.putLocked(key, v, ttl)
			c.forgetLocked(key, cl)
			c.mu.Unlock()
			cl.value = v
			return
		}
	}

	v, err := fn(ctx)
	if err == nil {
		c.Put(ctx, key, v, ttl)
	}
	cl.value, cl.err = v, err
	c.mu.Lock()
	c.forgetLocked(key, cl)
	c.mu.Unlock()
}

// leave detaches a waiter. The last waiter out cancels the shared call and
// unregisters it so later callers start fresh.
func (c *Cache) leave(key Key, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl.waiters--
	if cl.waiters == 0 {
		c.forgetLocked(key, cl)
		cl.cancel()
	}
}

func (c *Cache) forgetLocked(key Key, cl *call) {
	if c.calls[key] == cl {
		delete(c.calls, key)
	}
}

// Invalidate removes key from the local store and the backend.
func (c *Cache) Invalidate(ctx context.Context, key Key) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok {
		c.removeLocked(el)
	}
	c.mu.Unlock()
	if c.backend != nil {
		if err := c.backend.Delete(ctx, key); err != nil {
			c.log.Warn().Err(err).Str("key", string(key)).Msg("backend delete failed")
		}
	}
	return ok
}

// Purge drops every local entry and, when configured, every backend entry.
// It returns how many local entries were removed.
func (c *Cache) Purge(ctx context.Context) int {
	c.mu.Lock()
	n := c.ll.Len()
	c.ll.Init()
	c.items = make(map[Key]*list.Element)
	c.mu.Unlock()
	if c.backend != nil {
		removed, err := c.backend.Purge(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("backend purge failed")
		} else {
			c.log.Debug().Int("removed", removed).Msg("backend purged")
		}
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.ll.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Shared:    c.shared,
		Evictions: c.evictions,
	}
}

func (c *Cache) getLocked(key Key) (*Entry, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*Entry)
	if e.expired(c.now()) {
		c.removeLocked(el)
		return nil, false
	}
	e.Hits++
	c.ll.MoveToFront(el)
	return e, true
}

func (c *Cache) putLocked(key Key, value []byte, ttl time.Duration) {
	if el, ok := c.items[key]; ok {
		e := el.Value.(*Entry)
		e.Value, e.CreatedAt, e.TTL = value, c.now(), ttl
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&Entry{Key: key, Value: value, CreatedAt: c.now(), TTL: ttl})
	for c.ll.Len() > c.capacity {
		c.removeLocked(c.ll.Back())
		c.evictions++
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*Entry).Key)
}
