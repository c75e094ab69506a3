package fanout

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Subscription.Next once the producer side has been
// closed and the subscription's buffer is fully drained.
var ErrClosed = errors.New("fanout: channel closed")

// Frame is one published PCM chunk together with its publication sequence
// number. Frames are immutable after Publish: neither the channel nor any
// subscriber modifies Data.
type Frame struct {
	Data []byte
	Seq  uint64
}

// Channel is a single-producer broadcast channel. Every subscription owns a
// bounded ring of pending frames; Publish never blocks on a slow consumer.
type Channel struct {
	capacity int

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	nextSeq uint64
	closed  bool
}

// NewChannel creates a broadcast channel whose subscriptions buffer at most
// capacity unread frames each.
func NewChannel(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Publish delivers data to every live subscription and returns the number of
// subscriptions that received it. Publishing to a closed channel, or to a
// channel whose last subscription has been cancelled, is a no-op.
//
// Publish must be called from a single producer goroutine; frame ordering is
// defined by that serialization.
func (c *Channel) Publish(data []byte) int {
	c.mu.Lock()
	if c.closed || len(c.subs) == 0 {
		c.mu.Unlock()
		return 0
	}

	c.nextSeq++
	frame := Frame{Data: data, Seq: c.nextSeq}

	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	delivered := 0
	for _, s := range subs {
		if s.push(frame) {
			delivered++
		}
	}
	return delivered
}

// Subscribe returns a new independent cursor that observes every frame
// published after this call, in publication order, subject to lag eviction.
func (c *Channel) Subscribe() *Subscription {
	s := &Subscription{
		ch:     c,
		ring:   make([]Frame, c.capacity),
		notify: make(chan struct{}, 1),
	}

	c.mu.Lock()
	if c.closed {
		s.closed = true
	} else {
		c.subs[s] = struct{}{}
	}
	c.mu.Unlock()

	return s
}

// Close shuts the producer side. Every subscription drains whatever it has
// buffered and then observes ErrClosed. Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.markClosed()
	}
}

// SubscriberCount returns the number of live subscriptions.
func (c *Channel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Channel) remove(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

// Subscription is one consumer's cursor into the channel. All methods are
// safe for use by a single consumer goroutine concurrent with the producer.
type Subscription struct {
	ch *Channel

	mu        sync.Mutex
	ring      []Frame
	head      int
	count     int
	dropped   uint64 // frames evicted since the last successful Next
	closed    bool
	cancelled bool

	notify chan struct{}
}

// push appends a frame, evicting the oldest unread frame when the ring is
// full. Returns false if the subscription has been cancelled.
func (s *Subscription) push(f Frame) bool {
	s.mu.Lock()
	if s.cancelled || s.closed {
		s.mu.Unlock()
		return false
	}

	if s.count == len(s.ring) {
		// Drop-oldest: this cursor lags, nobody else is affected.
		s.ring[s.head] = Frame{}
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		s.dropped++
	}

	s.ring[(s.head+s.count)%len(s.ring)] = f
	s.count++
	s.mu.Unlock()

	s.wake()
	return true
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available, the channel is closed and drained,
// or ctx is done. Buffered frames are served before ctx is consulted, so a
// caller that must stop on cancellation checks ctx itself rather than rely
// on Next to fail mid-backlog. The second return value is the number of
// frames this cursor missed (evicted for lag) since its previous successful
// read; callers observing a non-zero count know exactly how much of the
// stream they lost.
func (s *Subscription) Next(ctx context.Context) (Frame, uint64, error) {
	for {
		s.mu.Lock()
		if s.count > 0 {
			f := s.ring[s.head]
			s.ring[s.head] = Frame{}
			s.head = (s.head + 1) % len(s.ring)
			s.count--
			d := s.dropped
			s.dropped = 0
			s.mu.Unlock()
			return f, d, nil
		}
		if s.closed || s.cancelled {
			d := s.dropped
			s.dropped = 0
			s.mu.Unlock()
			return Frame{}, d, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Frame{}, 0, ctx.Err()
		}
	}
}

// Pending returns the number of frames currently buffered for this cursor.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cancel drops the subscription. Buffered frames are discarded and the
// producer stops delivering to this cursor immediately.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.head = 0
	s.count = 0
	s.mu.Unlock()

	s.ch.remove(s)
	s.wake()
}
