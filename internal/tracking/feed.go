// Package tracking defines how frame events reach the visualizer.
package tracking

import (
	"sync"

	"github.com/OCAP2/bodytrack/pkg/core"
)

// Handler receives one frame event.
type Handler func(core.BodiesChanged)

// Subscription is returned by Subscribe. Unsubscribe may be called more than once.
type Subscription interface {
	Unsubscribe()
}

// Source publishes frame events to its subscribers.
type Source interface {
	Subscribe(h Handler) Subscription
}

// Feed is an in-process Source. Publish delivers synchronously on the caller's
// goroutine, in subscription order.
type Feed struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []subscriber
}

type subscriber struct {
	id uint64
	h  Handler
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{}
}

// Subscribe registers h until the returned subscription is cancelled.
func (f *Feed) Subscribe(h Handler) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.handlers = append(f.handlers, subscriber{id: f.nextID, h: h})
	return &feedSub{feed: f, id: f.nextID}
}

// Publish hands ev to every current subscriber.
func (f *Feed) Publish(ev core.BodiesChanged) {
	f.mu.RLock()
	handlers := make([]Handler, len(f.handlers))
	for i, s := range f.handlers {
		handlers[i] = s.h
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers)
}

func (f *Feed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.handlers {
		if s.id == id {
			f.handlers = append(f.handlers[:i], f.handlers[i+1:]...)
			return
		}
	}
}

type feedSub struct {
	feed *Feed
	id   uint64
	once sync.Once
}

func (s *feedSub) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s.id)
	})
}
