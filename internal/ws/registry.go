package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/tabcast/relay/internal/metrics"
	"github.com/tabcast/relay/internal/session"
)

var ErrTooManyViewers = errors.New("too many viewers")

// Subscriber is a registered viewer. Prime asks it to deliver the current
// session state even if nothing new has been published.
type Subscriber interface {
	Prime()
}

// ConnectionInfo is the /status payload.
type ConnectionInfo struct {
	ActiveConnections uint64 `json:"active_connections"`
	SecondsInactive   uint64 `json:"seconds_inactive"`
	Listening         bool   `json:"listening"`
}

// Registry tracks connected viewers and how long the relay has had none.
type Registry struct {
	mu        sync.Mutex
	subs      map[Subscriber]struct{}
	idleSince time.Time // zero while any viewer is connected
	max       int

	bus     *session.Bus
	metrics *metrics.Collector
	now     func() time.Time
}

// NewRegistry returns an empty registry, idle from now. maxViewers <= 0
// means unlimited.
func NewRegistry(bus *session.Bus, maxViewers int, m *metrics.Collector) *Registry {
	r := &Registry{
		subs:    make(map[Subscriber]struct{}),
		max:     maxViewers,
		bus:     bus,
		metrics: m,
		now:     time.Now,
	}
	r.idleSince = r.now()
	return r
}

// Add registers s and primes it so it receives the current state at once.
func (r *Registry) Add(s Subscriber) error {
	r.mu.Lock()
	if r.max > 0 && len(r.subs) >= r.max {
		r.mu.Unlock()
		return ErrTooManyViewers
	}
	r.subs[s] = struct{}{}
	r.idleSince = time.Time{}
	n := len(r.subs)
	r.mu.Unlock()

	r.metrics.SetViewers(n)
	s.Prime()
	return nil
}

// Remove unregisters s. Removing an unknown subscriber is a no-op.
func (r *Registry) Remove(s Subscriber) {
	r.mu.Lock()
	if _, ok := r.subs[s]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, s)
	n := len(r.subs)
	if n == 0 {
		r.idleSince = r.now()
	}
	r.mu.Unlock()

	r.metrics.SetViewers(n)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Full reports whether Add would currently fail with ErrTooManyViewers.
func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max > 0 && len(r.subs) >= r.max
}

func (r *Registry) Snapshot() ConnectionInfo {
	r.mu.Lock()
	info := ConnectionInfo{ActiveConnections: uint64(len(r.subs))}
	if !r.idleSince.IsZero() {
		if d := r.now().Sub(r.idleSince); d > 0 {
			info.SecondsInactive = uint64(d / time.Second)
		}
	}
	r.mu.Unlock()

	info.Listening = r.bus == nil || r.bus.Err() == nil
	return info
}
