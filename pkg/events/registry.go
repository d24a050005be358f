package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
)

// Handler receives dispatched events
type Handler func(Event)

// chanBuffer is the per-subscriber buffer for channel subscriptions
const chanBuffer = 50

type subscription struct {
	kind    Kind
	handler Handler
	active  atomic.Bool
}

// Registry dispatches events to subscribers by kind. It has no knowledge
// of the transport and is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	subs   map[Kind][]*subscription
	logger zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		subs:   make(map[Kind][]*subscription),
		logger: log.WithComponent("registry"),
	}
}

// Subscribe registers handler for kind and returns its unsubscribe func.
// Handlers for the same kind run in registration order. The returned
// func is idempotent and may be called from inside a handler.
//
// Unsubscribing from a handler stops the handler before its turn in the
// current dispatch. Unsubscribing from another goroutine is checked at the
// same point, so a Dispatch running concurrently that already passed the
// check may still invoke the handler once after the unsubscribe func
// returns. Dispatches that start after it returns never do.
func (r *Registry) Subscribe(kind Kind, handler Handler) func() {
	sub := &subscription{kind: kind, handler: handler}
	sub.active.Store(true)

	r.mu.Lock()
	r.subs[kind] = append(r.subs[kind], sub)
	r.mu.Unlock()

	return func() { r.remove(sub) }
}

func (r *Registry) remove(sub *subscription) {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.subs[sub.kind]
	// Copy so that in-progress dispatch snapshots are never mutated.
	next := make([]*subscription, 0, len(current))
	for _, s := range current {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(r.subs, sub.kind)
		return
	}
	r.subs[sub.kind] = next
}

// SubscribeChan delivers events of the given kinds (all kinds when none
// are given) on a buffered channel. Events are dropped when the buffer
// is full. The returned func unsubscribes and closes the channel.
func (r *Registry) SubscribeChan(kinds ...Kind) (<-chan Event, func()) {
	if len(kinds) == 0 {
		kinds = []Kind{KindWildcard}
	}

	ch := make(chan Event, chanBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	deliver := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			r.logger.Debug().Str("kind", string(ev.Kind())).Msg("Subscriber buffer full, dropping event")
		}
	}

	unsubs := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		unsubs = append(unsubs, r.Subscribe(kind, deliver))
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			for _, unsub := range unsubs {
				unsub()
			}
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

// Dispatch invokes every handler registered for the event's kind, then
// every wildcard handler. A panicking handler is logged and does not
// prevent the remaining handlers from running.
func (r *Registry) Dispatch(ev Event) {
	kind := ev.Kind()

	r.mu.RLock()
	specific := r.subs[kind]
	var wildcard []*subscription
	if kind != KindWildcard {
		wildcard = r.subs[KindWildcard]
	}
	r.mu.RUnlock()

	for _, sub := range specific {
		r.invoke(sub, ev)
	}
	for _, sub := range wildcard {
		r.invoke(sub, ev)
	}
}

func (r *Registry) invoke(sub *subscription, ev Event) {
	if !sub.active.Load() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			label := string(ev.Kind())
			if !ev.Kind().Known() {
				label = "unknown"
			}
			metrics.HandlerPanics.WithLabelValues(label).Inc()
			r.logger.Error().
				Str("kind", string(ev.Kind())).
				Str("subscribed", string(sub.kind)).
				Str("panic", fmt.Sprint(rec)).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(ev)
}

// Clear removes every subscription
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.subs {
		for _, sub := range subs {
			sub.active.Store(false)
		}
	}
	r.subs = make(map[Kind][]*subscription)
}

// Count returns the number of active subscriptions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}
