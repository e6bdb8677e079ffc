package devlink

import (
	"context"
	"sync"

	"github.com/allbin/go-devlink/frame"
)

// Subscription receives every message decoded by a Manager.
type Subscription struct {
	ch   chan frame.Message
	done chan struct{}
	once sync.Once
	e    *Emitter
}

// C returns the message channel. It is closed after Close or once the
// Manager stops.
func (s *Subscription) C() <-chan frame.Message {
	return s.ch
}

// Close unsubscribes. It unblocks a delivery waiting on this subscriber
// and may be called more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.e.remove(s)
	})
}

// Emitter broadcasts decoded messages to every subscriber. Delivery waits
// for room in each subscriber's buffer, so a slow consumer slows the link
// down instead of losing messages.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewEmitter returns an Emitter whose subscribers buffer up to buffer
// messages each.
func NewEmitter(buffer int) *Emitter {
	if buffer < 0 {
		buffer = 0
	}
	return &Emitter{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. After the Emitter is closed the
// returned subscription's channel is already closed.
func (e *Emitter) Subscribe() *Subscription {
	s := &Subscription{
		ch:   make(chan frame.Message, e.buffer),
		done: make(chan struct{}),
		e:    e,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(s.ch)
		return s
	}
	e.subs[s] = struct{}{}
	return s
}

// Emit delivers msg to every current subscriber. It returns early with
// ctx's error if ctx ends while a subscriber is full.
func (e *Emitter) Emit(ctx context.Context, msg frame.Message) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for s := range e.subs {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the current subscriber count.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Close closes every subscriber channel and rejects new subscribers.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for s := range e.subs {
		delete(e.subs, s)
		close(s.ch)
	}
}

func (e *Emitter) remove(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[s]; !ok {
		return
	}
	delete(e.subs, s)
	close(s.ch)
}
