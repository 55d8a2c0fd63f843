package session

import (
	"errors"
	"sync"
)

// ErrBusClosed is the terminal error of a bus closed during normal shutdown.
var ErrBusClosed = errors.New("session closed")

// Bus is a single-slot broadcast of the latest State. Each Publish replaces
// the current value and wakes every subscription; a subscriber that falls
// behind only ever sees the newest value, never a backlog.
type Bus struct {
	mu      sync.Mutex
	state   State
	version uint64
	err     error
	subs    map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish stores st as the current value and notifies subscribers. It is a
// no-op after Close.
func (b *Bus) Publish(st State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.state = st
	b.version++
	for s := range b.subs {
		s.signal()
	}
}

// Current returns the latest published state and its version. Version 0
// means nothing has been published.
func (b *Bus) Current() (State, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.version
}

// Close marks the bus terminal and wakes every subscription so it can
// observe err. A nil err is recorded as ErrBusClosed. Only the first call
// has an effect.
func (b *Bus) Close(err error) {
	if err == nil {
		err = ErrBusClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.err = err
	for s := range b.subs {
		s.signal()
	}
}

// Err returns the error passed to Close, or nil while the bus is open.
func (b *Bus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:   b,
		ready: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	closed := b.err != nil
	b.mu.Unlock()
	if closed {
		s.signal()
	}
	return s
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is one reader of a Bus. Notifications coalesce: any number
// of publishes between two reads produce a single wake-up.
type Subscription struct {
	bus   *Bus
	ready chan struct{}
	seen  uint64
}

// Ready is signalled when Next may return something new.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Prime requests delivery of the current value even if nothing new has been
// published since the subscription was created.
func (s *Subscription) Prime() {
	s.signal()
}

// Next returns the latest state if it is newer than the last one returned
// to this subscription. The error is the bus's terminal error, if closed.
func (s *Subscription) Next() (State, bool, error) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version > s.seen {
		s.seen = b.version
		return b.state, true, b.err
	}
	return State{}, false, b.err
}

// Close detaches the subscription from its bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
