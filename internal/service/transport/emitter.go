package transport

import (
	"sync"
)

type subscriber struct {
	id uint64
	h  Handler
}

// Emitter is a subscription registry that transports embed to implement
// Subscribe and deliver events.
type Emitter struct {
	mu   sync.RWMutex
	subs map[EventName][]subscriber
	next uint64
}

// Subscribe registers h for name. Handlers for one event run in
// subscription order.
func (e *Emitter) Subscribe(name EventName, h Handler) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs == nil {
		e.subs = make(map[EventName][]subscriber)
	}
	e.next++
	id := e.next
	e.subs[name] = append(e.subs[name], subscriber{id: id, h: h})

	return &Subscription{
		name:   name,
		cancel: func() { e.remove(name, id) },
	}
}

func (e *Emitter) remove(name EventName, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subs[name]
	for i, s := range subs {
		if s.id == id {
			e.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subs[name]) == 0 {
		delete(e.subs, name)
	}
}

// Emit delivers ev synchronously to every current subscriber.
// Handlers may unsubscribe during delivery.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := make([]Handler, 0, len(e.subs[ev.Name]))
	for _, s := range e.subs[ev.Name] {
		subs = append(subs, s.h)
	}
	e.mu.RUnlock()

	for _, h := range subs {
		h(ev)
	}
}

// Count returns the number of subscribers for name.
func (e *Emitter) Count(name EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[name])
}

// Total returns the number of subscribers across all events.
func (e *Emitter) Total() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, subs := range e.subs {
		n += len(subs)
	}
	return n
}

// Subscription is a handle for one registered handler.
type Subscription struct {
	name   EventName
	once   sync.Once
	cancel func()
}

// Event returns the event name this subscription listens to.
func (s *Subscription) Event() EventName {
	return s.name
}

// Unsubscribe removes the handler. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Subscriptions releases a group of subscriptions together.
type Subscriptions []*Subscription

// Unsubscribe releases every subscription in the group.
func (g Subscriptions) Unsubscribe() {
	for _, s := range g {
		s.Unsubscribe()
	}
}
