// Package relay fans capture-store changes out to live SSE subscribers.
package relay

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// AnyTab in Filter.TabID matches events for every tab.
const AnyTab = -1

// Event is one SSE message.
type Event struct {
	Kind    string
	TabID   int
	Payload string
}

// Filter selects the events a subscriber receives. A nil Kinds set
// matches every kind.
type Filter struct {
	TabID int
	Kinds map[string]bool
}

func (f Filter) matches(evt Event) bool {
	if f.TabID != AnyTab && evt.TabID != f.TabID {
		return false
	}
	return f.Kinds == nil || f.Kinds[evt.Kind]
}

// Subscription is a registered client. C closes on Unsubscribe.
type Subscription struct {
	C <-chan Event

	id     int64
	ch     chan Event
	filter Filter
}

// Broker delivers published events to the subscribers whose filter matches.
// Delivery never blocks the publisher; a full subscriber buffer drops.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int64]*Subscription
	nextID  atomic.Int64
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]*Subscription)}
}

func (b *Broker) Subscribe(f Filter) *Subscription {
	ch := make(chan Event, subscriberBufSize)
	s := &Subscription{C: ch, id: b.nextID.Add(1), ch: ch, filter: f}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s
}

func (b *Broker) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(s.ch)
	}
}

func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.filter.matches(evt) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
