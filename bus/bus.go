// Package bus implements the in-process broadcast used to fan aggregate
// events out to the stdout, metric, and report subscribers: one producer,
// many independent consumers, none of which can block the others.
package bus

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/easybill/mehsh/model"
)

// QueueCapacity is the bounded size of each subscriber's queue.
const QueueCapacity = 1000

// Bus is a multi-consumer broadcast of model.BroadcastEvent values.
// Publish never blocks: a subscriber whose queue is full has its oldest
// pending value dropped in favor of the new one, and is told it lagged on
// its next Recv.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

type subscription struct {
	ch     chan model.BroadcastEvent
	lagged int64 // atomic count of events dropped since last Recv
}

// Subscription is the consumer handle returned by Subscribe.
type Subscription struct {
	bus *Bus
	sub *subscription
}

// Subscribe registers a new consumer. The caller must call Unsubscribe
// when done to release the slot.
func (b *Bus) Subscribe() *Subscription {
	sub := &subscription{ch: make(chan model.BroadcastEvent, QueueCapacity)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscription{bus: b, sub: sub}
}

// Unsubscribe removes the consumer from the broadcast list.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
}

// Recv blocks for the next event and reports how many events were dropped
// (because the queue was full) since the previous Recv, matching the
// broadcast channel's "lagged by K" semantics.
func (s *Subscription) Recv() (model.BroadcastEvent, int64) {
	ev := <-s.sub.ch
	lagged := atomic.SwapInt64(&s.sub.lagged, 0)
	return ev, lagged
}

// C exposes the raw channel for select-based consumers; lag accounting is
// still available via Lagged().
func (s *Subscription) C() <-chan model.BroadcastEvent {
	return s.sub.ch
}

// Lagged returns and resets the drop count observed since the last call.
func (s *Subscription) Lagged() int64 {
	return atomic.SwapInt64(&s.sub.lagged, 0)
}

// Publish fans ev out to every live subscriber without blocking. If there
// are zero subscribers the event is simply dropped.
func (b *Bus) Publish(ev model.BroadcastEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Queue full: drop the oldest pending value to make room
			// for this one, and record the lag for the subscriber's
			// next Recv.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			atomic.AddInt64(&sub.lagged, 1)
			log.Printf("WARNING bus: subscriber queue full, dropped event")
		}
	}
}
