package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrUnknownRun is returned for run ids that were never opened or whose
	// grace period has elapsed.
	ErrUnknownRun = errors.New("unknown run")
	// ErrRunClosed is returned when publishing after the terminal event.
	ErrRunClosed = errors.New("run already finished")
)

type runLog struct {
	events     []Event
	subs       map[*Subscription]struct{}
	finishedAt time.Time
}

// Broadcaster keeps every run's event log in memory until the run has been
// terminal for the grace period.
type Broadcaster struct {
	mu    sync.Mutex
	runs  map[string]*runLog
	grace time.Duration
	now   func() time.Time
}

// NewBroadcaster creates a broadcaster. grace <= 0 means five minutes.
func NewBroadcaster(grace time.Duration) *Broadcaster {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &Broadcaster{runs: make(map[string]*runLog), grace: grace, now: time.Now}
}

// Open registers a run. Ids cannot be reused while retained.
func (b *Broadcaster) Open(runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	if _, ok := b.runs[runID]; ok {
		return fmt.Errorf("run %s already open", runID)
	}
	b.runs[runID] = &runLog{subs: make(map[*Subscription]struct{})}
	return nil
}

// Publish assigns the next sequence number to ev and delivers it to every
// subscriber. It never blocks on slow subscribers.
func (b *Broadcaster) Publish(ev Event) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[ev.RunID]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownRun, ev.RunID)
	}
	if !rl.finishedAt.IsZero() {
		return Event{}, fmt.Errorf("%w: %s", ErrRunClosed, ev.RunID)
	}
	ev.Seq = uint64(len(rl.events)) + 1
	if ev.Time.IsZero() {
		ev.Time = b.now().UTC()
	}
	rl.events = append(rl.events, ev)
	for s := range rl.subs {
		s.push(ev)
	}
	if ev.Terminal() {
		rl.finishedAt = b.now()
		for s := range rl.subs {
			s.finish()
		}
		rl.subs = nil
	}
	return ev, nil
}

// Subscribe returns a stream of the run's events with Seq > afterSeq:
// first the retained backlog, then live events. The channel closes after
// the terminal event. Pass 0 to receive everything.
func (b *Broadcaster) Subscribe(runID string, afterSeq uint64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	rl, ok := b.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	s := newSubscription(func(s *Subscription) { b.unsubscribe(runID, s) })
	for _, ev := range rl.events {
		if ev.Seq > afterSeq {
			s.push(ev)
		}
	}
	if rl.finishedAt.IsZero() {
		rl.subs[s] = struct{}{}
	} else {
		s.finish()
	}
	return s, nil
}

// Events returns a copy of the run's retained log.
func (b *Broadcaster) Events(runID string) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return append([]Event(nil), rl.events...), nil
}

// Last returns the most recent event of a run whose log is still retained.
func (b *Broadcaster) Last(runID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	rl, ok := b.runs[runID]
	if !ok || len(rl.events) == 0 {
		return Event{}, false
	}
	return rl.events[len(rl.events)-1], true
}

func (b *Broadcaster) unsubscribe(runID string, s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rl, ok := b.runs[runID]; ok && rl.subs != nil {
		delete(rl.subs, s)
	}
}

func (b *Broadcaster) sweepLocked() {
	now := b.now()
	for id, rl := range b.runs {
		if !rl.finishedAt.IsZero() && now.Sub(rl.finishedAt) >= b.grace {
			delete(b.runs, id)
		}
	}
}
