// Package retry decides whether and when a failed provider call is retried.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/lucasnoah/writefactory/internal/provider"
)

// Defaults.
const (
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultMaxAttempts = 3
)

// Decision is the outcome of Policy.Decide. When Retry is false the caller
// gives up and surfaces the error.
type Decision struct {
	Retry  bool
	After  time.Duration
	Reason string
}

// GiveUp reports whether the decision ends the attempt loop.
func (d Decision) GiveUp() bool { return !d.Retry }

// Policy is exponential backoff with equal jitter.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      bool

	rand func() float64
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay, MaxAttempts: DefaultMaxAttempts, Jitter: true}
}

// WithRand returns a copy of p drawing jitter from r.
func (p Policy) WithRand(r func() float64) Policy {
	p.rand = r
	return p
}

// Decide is called after attempt (1-based) failed with err.
func (p Policy) Decide(err error, attempt int) Decision {
	p = p.normalized()
	e := provider.Classify(err)
	if !e.Kind.Transient() {
		return Decision{Reason: "permanent: " + string(e.Kind)}
	}
	if attempt >= p.MaxAttempts {
		return Decision{Reason: "attempts exhausted"}
	}

	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		half := d / 2
		d = half + time.Duration(p.rand()*float64(d-half))
	}
	if e.RetryAfter > d {
		d = e.RetryAfter
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return Decision{Retry: true, After: d, Reason: string(e.Kind)}
}

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.rand == nil {
		p.rand = rand.Float64
	}
	return p
}

// Sleeper waits between attempts. Wait is the production sleeper.
type Sleeper func(ctx context.Context, d time.Duration) error

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
