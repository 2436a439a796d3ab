// Package bus fans decoded readings out to in-process observers.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/reading"
)

// Handler receives a published reading. It must not retain the reading's pointers for mutation.
type Handler func(reading.Reading)

// Bus is a publish/subscribe register for readings.
// There is no buffering and no replay; subscribers only see readings published after they joined.
// Invocation order among subscribers is not defined.
type Bus struct {
	logger      *logrus.Logger
	nextID      atomic.Uint64
	subscribers *hashmap.Map[uint64, Handler]
}

// New creates an empty bus
func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		logger:      logger,
		subscribers: hashmap.New[uint64, Handler](),
	}
}

// Subscribe registers handler and returns a function that removes exactly that registration.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	id := b.nextID.Add(1)
	b.subscribers.Set(id, handler)
	b.logger.WithField("subscriber_id", id).Debug("Reading subscriber added")

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subscribers.Del(id)
			b.logger.WithField("subscriber_id", id).Debug("Reading subscriber removed")
		})
	}
}

// Publish synchronously invokes every current subscriber with r.
// A panicking subscriber is logged and skipped; the rest still receive r.
func (b *Bus) Publish(r reading.Reading) {
	b.subscribers.Range(func(id uint64, h Handler) bool {
		b.invoke(id, h, r)
		return true
	})
}

func (b *Bus) invoke(id uint64, h Handler, r reading.Reading) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.WithFields(logrus.Fields{
				"subscriber_id": id,
				"panic":         rec,
			}).Error("Reading subscriber panicked")
		}
	}()
	h(r)
}

// Len returns the number of registered subscribers
func (b *Bus) Len() int {
	return b.subscribers.Len()
}
