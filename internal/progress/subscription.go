package progress

import "sync"

// Subscription is one observer's view of a run. Events arrive on C in
// sequence order. Call Close when done; C is closed after the terminal
// event or after Close.
type Subscription struct {
	C <-chan Event

	out     chan Event
	mu      sync.Mutex
	queue   []Event
	ended   bool // no more events will be pushed
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	release func(*Subscription)
}

func newSubscription(release func(*Subscription)) *Subscription {
	s := &Subscription{
		out:     make(chan Event),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		release: release,
	}
	s.C = s.out
	go s.pump()
	return s
}

// Close detaches the subscriber. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.release(s)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to the unbuffered channel so publishers never
// wait on a slow reader.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
